// nodes.go - Decrypted node tree.
// Copyright (C) 2026  The Megalite Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package nodes turns the encrypted node listing returned by the cloud
// API into a decrypted tree: per-node keys unwrapped through a decryption
// context, attribute blobs opened, parent/child links indexed.
package nodes

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/megalite/megalite/core/log"
	"github.com/megalite/megalite/core/utils"
	"github.com/megalite/megalite/crypto/keys"
	"github.com/megalite/megalite/protocol/commands"
	"github.com/megalite/megalite/transport"
)

// Kind is the node type.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
	KindCloudDrive
	KindInbox
	KindTrash
)

// String returns a human readable kind name.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindCloudDrive:
		return "cloud drive"
	case KindInbox:
		return "inbox"
	case KindTrash:
		return "trash"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Node is one decrypted node.
type Node struct {
	handle   string
	parent   string
	owner    string
	kind     Kind
	name     string
	size     int64
	created  time.Time
	key      *keys.NodeKey
	children []string
}

// Handle returns the node's opaque handle.
func (n *Node) Handle() string { return n.handle }

// Parent returns the parent handle, empty for a root.
func (n *Node) Parent() string { return n.parent }

// Owner returns the handle of the owning user.
func (n *Node) Owner() string { return n.owner }

// Kind returns the node type.
func (n *Node) Kind() Kind { return n.kind }

// Name returns the decrypted node name.  Root nodes carry fixed names.
func (n *Node) Name() string { return n.name }

// Size returns the payload size in bytes, 0 for folders.
func (n *Node) Size() int64 { return n.size }

// Created returns the node creation time.
func (n *Node) Created() time.Time { return n.created }

// Key returns the unwrapped node key, nil for roots.
func (n *Node) Key() *keys.NodeKey { return n.key }

// IsFile reports whether the node carries file data.
func (n *Node) IsFile() bool { return n.kind == KindFile }

// Tree is an indexed set of decrypted nodes.
type Tree struct {
	log   *logging.Logger
	nodes map[string]*Node
	roots []string
}

// Build decrypts a fetched node listing using the session's decryption
// context.  Per-node keys are unwrapped under the master key when the key
// slot is labeled with the session's own user handle, and under the
// matching share key otherwise.  Nodes whose key or attributes cannot be
// opened are skipped with a warning rather than failing the whole listing.
func Build(logBackend *log.Backend, resp *commands.FetchNodesResponse, dctx *transport.DecryptionContext) (*Tree, error) {
	t := &Tree{
		log:   logBackend.GetLogger("nodes"),
		nodes: make(map[string]*Node, len(resp.Nodes)),
	}

	// Local copies only; scrubbed once every node key is unwrapped.
	shareKeys := dctx.ShareKeys()
	defer func() {
		for _, k := range shareKeys {
			utils.ExplicitBzero(k)
		}
	}()

	// Outbound share keys ride along wrapped under the master key.
	for _, ok := range resp.Ok {
		sk, err := keys.UnwrapNodeKey(dctx.MasterKey(), ok.Key)
		if err != nil {
			t.log.Warningf("dropping share key for %s: %v", ok.Handle, err)
			continue
		}
		shareKeys[ok.Handle] = append([]byte(nil), sk.AESKey()...)
		sk.Destroy()
	}

	for i := range resp.Nodes {
		nd := &resp.Nodes[i]

		// The root of an inbound share carries its own share key,
		// wrapped under the master key.
		if nd.ShareKey != "" {
			sk, err := keys.UnwrapNodeKey(dctx.MasterKey(), nd.ShareKey)
			if err != nil {
				t.log.Warningf("dropping inbound share key for %s: %v", nd.Handle, err)
			} else {
				shareKeys[nd.Handle] = append([]byte(nil), sk.AESKey()...)
				sk.Destroy()
			}
		}

		n, err := t.decryptNode(nd, func(prefix string) []byte {
			if prefix == dctx.UserHandle() {
				return dctx.MasterKey()
			}
			return shareKeys[prefix]
		})
		if err != nil {
			t.log.Warningf("skipping node %s: %v", nd.Handle, err)
			continue
		}
		t.insert(n)
	}

	t.index()
	return t, nil
}

// BuildShared decrypts a public folder listing.  Every node key is
// wrapped under the single folder key from the public link, regardless of
// the label on the key slot.
func BuildShared(logBackend *log.Backend, resp *commands.FetchNodesResponse, folderKey *keys.NodeKey) (*Tree, error) {
	t := &Tree{
		log:   logBackend.GetLogger("nodes"),
		nodes: make(map[string]*Node, len(resp.Nodes)),
	}

	kek := folderKey.AESKey()
	for i := range resp.Nodes {
		nd := &resp.Nodes[i]
		n, err := t.decryptNode(nd, func(string) []byte { return kek })
		if err != nil {
			t.log.Warningf("skipping node %s: %v", nd.Handle, err)
			continue
		}
		t.insert(n)
	}

	t.index()
	if len(t.roots) == 0 {
		return nil, fmt.Errorf("nodes: listing contains no root")
	}
	return t, nil
}

// decryptNode unwraps one node's key and opens its attributes.  kekFor
// maps a key slot label to the key encryption key for that label, or nil
// when the label is unknown.
func (t *Tree) decryptNode(nd *commands.NodeData, kekFor func(prefix string) []byte) (*Node, error) {
	n := &Node{
		handle:  nd.Handle,
		parent:  nd.Parent,
		owner:   nd.Owner,
		size:    nd.Size,
		created: time.Unix(nd.Timestamp, 0).UTC(),
	}

	switch nd.Type {
	case 0:
		n.kind = KindFile
	case 1:
		n.kind = KindFolder
	case 2:
		n.kind = KindCloudDrive
		n.name = "Cloud Drive"
		return n, nil
	case 3:
		n.kind = KindInbox
		n.name = "Inbox"
		return n, nil
	case 4:
		n.kind = KindTrash
		n.name = "Rubbish Bin"
		return n, nil
	default:
		return nil, fmt.Errorf("nodes: unknown node type %d", nd.Type)
	}

	key, err := unwrapNodeKey(nd.Key, kekFor)
	if err != nil {
		return nil, err
	}
	n.key = key

	attrs, err := keys.DecryptAttributes(key.AESKey(), nd.Attrs)
	if err != nil {
		key.Destroy()
		return nil, err
	}
	n.name = attrs.Name
	return n, nil
}

// unwrapNodeKey picks the first usable slot out of a node's key field.
// The field is one or more "label:wrapped" pairs separated by slashes.
func unwrapNodeKey(field string, kekFor func(prefix string) []byte) (*keys.NodeKey, error) {
	if field == "" {
		return nil, fmt.Errorf("nodes: node carries no key")
	}
	var lastErr error
	for _, slot := range strings.Split(field, "/") {
		label, wrapped, found := strings.Cut(slot, ":")
		if !found {
			lastErr = fmt.Errorf("nodes: malformed key slot %q", slot)
			continue
		}
		kek := kekFor(label)
		if kek == nil {
			lastErr = fmt.Errorf("nodes: no key encryption key for %q", label)
			continue
		}
		key, err := keys.UnwrapNodeKey(kek, wrapped)
		if err != nil {
			lastErr = err
			continue
		}
		return key, nil
	}
	return nil, lastErr
}

func (t *Tree) insert(n *Node) {
	t.nodes[n.handle] = n
}

// index rebuilds the child lists and the root set from parent links.
func (t *Tree) index() {
	t.roots = t.roots[:0]
	for _, n := range t.nodes {
		n.children = n.children[:0]
	}
	for _, n := range t.nodes {
		if parent, ok := t.nodes[n.parent]; ok {
			parent.children = append(parent.children, n.handle)
		} else {
			t.roots = append(t.roots, n.handle)
		}
	}
}

// Get returns the node for handle, or nil.
func (t *Tree) Get(handle string) *Node {
	return t.nodes[handle]
}

// Len returns the number of decrypted nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Roots returns the nodes with no parent in the listing.  For a full
// account fetch this is the cloud drive, inbox, trash, and any inbound
// share roots; for a public folder it is the folder itself.
func (t *Tree) Roots() []*Node {
	out := make([]*Node, 0, len(t.roots))
	for _, h := range t.roots {
		out = append(out, t.nodes[h])
	}
	return out
}

// Root returns the cloud drive root for a full fetch, or the single root
// of a public folder listing.  Returns nil if neither exists.
func (t *Tree) Root() *Node {
	for _, h := range t.roots {
		if n := t.nodes[h]; n.kind == KindCloudDrive {
			return n
		}
	}
	if len(t.roots) == 1 {
		return t.nodes[t.roots[0]]
	}
	return nil
}

// Children returns the direct children of the node with the given handle.
func (t *Tree) Children(handle string) []*Node {
	n := t.nodes[handle]
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, len(n.children))
	for _, h := range n.children {
		out = append(out, t.nodes[h])
	}
	return out
}

// Walk visits every node reachable from the given handle, depth first,
// parents before children.
func (t *Tree) Walk(handle string, visit func(n *Node, depth int)) {
	t.walk(handle, 0, visit)
}

func (t *Tree) walk(handle string, depth int, visit func(n *Node, depth int)) {
	n := t.nodes[handle]
	if n == nil {
		return
	}
	visit(n, depth)
	for _, c := range n.children {
		t.walk(c, depth+1, visit)
	}
}

// Destroy wipes every node key in the tree.
func (t *Tree) Destroy() {
	for _, n := range t.nodes {
		n.key.Destroy()
		n.key = nil
	}
}

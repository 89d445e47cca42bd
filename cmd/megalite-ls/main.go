// main.go - Megalite folder listing tool.
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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/megalite/megalite/client"
	"github.com/megalite/megalite/client/config"
	"github.com/megalite/megalite/nodes"
)

// Config holds the command line configuration.
type Config struct {
	ConfigFile string
	Email      string
	Password   string
	LogLevel   string
	Sizes      bool
}

func loadConfig(cfg *Config) (*config.Config, error) {
	var c *config.Config
	var err error
	if cfg.ConfigFile != "" {
		c, err = config.LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else {
		c = config.Default()
	}
	if cfg.LogLevel != "" {
		c.Logging.Level = cfg.LogLevel
	}
	return c, nil
}

func printTree(cfg *Config, tree *nodes.Tree, root *nodes.Node) {
	tree.Walk(root.Handle(), func(n *nodes.Node, depth int) {
		indent := strings.Repeat("  ", depth)
		if cfg.Sizes && n.IsFile() {
			fmt.Printf("%s%s (%d bytes)\n", indent, n.Name(), n.Size())
			return
		}
		fmt.Printf("%s%s\n", indent, n.Name())
	})
}

func listPublic(cfg *Config, link string) error {
	c, err := loadConfig(cfg)
	if err != nil {
		return err
	}
	cl, err := client.New(c)
	if err != nil {
		return err
	}
	defer cl.Shutdown()

	tree, err := cl.FetchPublicNodes(context.Background(), link)
	if err != nil {
		return err
	}
	defer tree.Destroy()

	// A listing with an undecryptable top folder has no single root;
	// print whatever subtrees survived.
	for _, root := range tree.Roots() {
		printTree(cfg, tree, root)
	}
	return nil
}

func listAccount(cfg *Config) error {
	if cfg.Email == "" {
		return fmt.Errorf("must specify account email with -u/--user")
	}
	password := cfg.Password
	if password == "" {
		password = os.Getenv("MEGALITE_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("must specify the account password via --password or MEGALITE_PASSWORD")
	}

	c, err := loadConfig(cfg)
	if err != nil {
		return err
	}
	cl, err := client.New(c)
	if err != nil {
		return err
	}
	defer cl.Shutdown()

	ctx := context.Background()
	if err := cl.Login(ctx, cfg.Email, password); err != nil {
		return err
	}
	defer cl.Logout(ctx)

	tree, err := cl.FetchNodes(ctx)
	if err != nil {
		return err
	}
	defer tree.Destroy()

	for _, root := range tree.Roots() {
		printTree(cfg, tree, root)
	}
	return nil
}

// newRootCommand creates the root cobra command.
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "megalite-ls [public folder link]",
		Short: "List cloud storage folder contents",
		Long: `megalite-ls prints the decrypted file tree of a cloud storage account
or of a public folder link.  With a link argument no login is performed;
without one the account given by -u/--user is listed.`,
		Example: `  # List a public folder
  megalite-ls "https://mega.nz/folder/HANDLE#KEY"

  # List an account's cloud drive
  MEGALITE_PASSWORD=... megalite-ls -u user@example.net`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return listPublic(&cfg, args[0])
			}
			return listAccount(&cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "c", "", "configuration file")
	cmd.Flags().StringVarP(&cfg.Email, "user", "u", "", "account email")
	cmd.Flags().StringVar(&cfg.Password, "password", "", "account password (prefer MEGALITE_PASSWORD)")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "", "logging level (DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL)")
	cmd.Flags().BoolVarP(&cfg.Sizes, "sizes", "s", false, "print file sizes")

	return cmd
}

func main() {
	rootCmd := newRootCommand()

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}

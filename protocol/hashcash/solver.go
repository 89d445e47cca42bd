// solver.go - Worker pool for CPU-bound stamp generation.
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

package hashcash

import (
	"context"

	"gopkg.in/op/go-logging.v1"

	"github.com/megalite/megalite/core/log"
	"github.com/megalite/megalite/core/worker"
)

// Solver generates stamps on a bounded pool of dedicated worker goroutines,
// keeping the CPU-bound work off goroutines that service concurrent I/O.
type Solver struct {
	worker.Worker

	log   *logging.Logger
	jobCh chan *solveJob
}

type solveJob struct {
	challenge *Challenge
	stampCh   chan string
	errCh     chan error
}

// NewSolver creates a Solver with the given number of workers.  Values less
// than one are treated as one.
func NewSolver(logBackend *log.Backend, numWorkers int) *Solver {
	s := &Solver{
		log:   logBackend.GetLogger("hashcash"),
		jobCh: make(chan *solveJob),
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		s.Go(s.solveWorker)
	}
	return s
}

func (s *Solver) solveWorker() {
	for {
		select {
		case <-s.HaltCh():
			return
		case j := <-s.jobCh:
			s.log.Debugf("solving challenge, easiness %d", j.challenge.Easiness)
			stamp, err := gencash(j.challenge.Token, j.challenge.Easiness, s.HaltCh())
			if err != nil {
				j.errCh <- err
				continue
			}
			j.stampCh <- stamp
		}
	}
}

// Solve submits the challenge to the pool and blocks until a worker reports
// the stamp, the context is canceled, or the Solver is halted.
func (s *Solver) Solve(ctx context.Context, challenge *Challenge) (string, error) {
	j := &solveJob{
		challenge: challenge,
		stampCh:   make(chan string, 1),
		errCh:     make(chan error, 1),
	}

	select {
	case s.jobCh <- j:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.HaltCh():
		return "", ErrHalted
	}

	select {
	case stamp := <-j.stampCh:
		return stamp, nil
	case err := <-j.errCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.HaltCh():
		return "", ErrHalted
	}
}

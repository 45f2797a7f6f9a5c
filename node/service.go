// Copyright 2019 The klaytn Authors
// This file is part of the chainscope library.
//
// The chainscope library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chainscope library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chainscope library. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"sync"

	"github.com/klaytn/chainscope/log"
	"github.com/pkg/errors"
)

var (
	logger = log.NewModuleLogger(log.CMDChainscope)

	ErrNodeRunning = errors.New("node is already running")
	ErrNodeStopped = errors.New("node is not running")
)

// Service is an individual subsystem hosted by the node.
//
// Service life-cycle management is delegated to the node. The service is
// allowed to initialize itself upon creation, but no goroutines should be
// spun up outside of the Start method.
type Service interface {
	// Start spawns any goroutines required by the service.
	Start() error

	// Stop terminates all goroutines belonging to the service, blocking
	// until they are all terminated.
	Stop() error
}

// Node hosts a set of services, starting them in registration order and
// stopping them in reverse.
type Node struct {
	mu       sync.Mutex
	services []namedService
	running  bool
}

type namedService struct {
	name string
	svc  Service
}

func New() *Node {
	return &Node{}
}

// Register adds a service under a name used in lifecycle logs. Registration
// after Start is rejected.
func (n *Node) Register(name string, svc Service) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrNodeRunning
	}
	n.services = append(n.services, namedService{name: name, svc: svc})
	return nil
}

// Start brings every registered service up. The first failure stops the
// already-started services in reverse order and is returned.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrNodeRunning
	}
	for i, s := range n.services {
		if err := s.svc.Start(); err != nil {
			logger.Error("service failed to start", "service", s.name, "err", err)
			for j := i - 1; j >= 0; j-- {
				if serr := n.services[j].svc.Stop(); serr != nil {
					logger.Warn("service failed to stop during unwind", "service", n.services[j].name, "err", serr)
				}
			}
			return errors.Wrapf(err, "start %s", s.name)
		}
		logger.Info("service started", "service", s.name)
	}
	n.running = true
	return nil
}

// Stop brings every service down in reverse order. All stop errors are
// logged; the first is returned.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return ErrNodeStopped
	}
	var firstErr error
	for i := len(n.services) - 1; i >= 0; i-- {
		s := n.services[i]
		if err := s.svc.Stop(); err != nil {
			logger.Error("service failed to stop", "service", s.name, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Info("service stopped", "service", s.name)
	}
	n.running = false
	return firstErr
}

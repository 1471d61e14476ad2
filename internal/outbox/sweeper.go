// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/opentrusty/provisioner/internal/observability/logger"
)

// Sweeper periodically redispatches pending publications. It is the
// recovery path for crashes between commit and dispatch and for failed
// deliveries.
type Sweeper struct {
	outbox   *Outbox
	interval time.Duration
}

func NewSweeper(o *Outbox, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{outbox: o, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.outbox.DispatchPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "outbox sweep failed", logger.Component("outbox"), logger.Error(err))
		}
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "outbox sweep delivered publications", logger.Component("outbox"), logger.Count(n))
	}
}

// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"errors"
	"sync/atomic"
	"time"

	"gopkg.in/check.v1"
)

type throttleSuite struct{}

var _ = check.Suite(&throttleSuite{})

func (s *throttleSuite) TestMax(c *check.C) {
	thr := throttle{Max: 3}
	var running, peak int32
	for i := 0; i < 20; i++ {
		thr.Go(func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	c.Check(thr.Wait(), check.IsNil)
	c.Check(peak <= 3, check.Equals, true, check.Commentf("peak %d", peak))
}

func (s *throttleSuite) TestFirstError(c *check.C) {
	thr := throttle{}
	errFirst := errors.New("first")
	thr.Go(func() error { return errFirst })
	thr.Wait()
	thr.Go(func() error { return errors.New("second") })
	c.Check(thr.Wait(), check.Equals, errFirst)
}

package registry_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/registry"
)

type RegistryTestSuite struct {
	suite.Suite

	logger *logrus.Logger
	hook   *test.Hook
	reg    *registry.Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)
	s.reg = registry.New(s.logger)
}

func (s *RegistryTestSuite) TestLookupUpsertRemove() {
	s.Run("upsert replaces the whole record", func() {
		s.reg.Upsert(&registry.Record{Identifier: "printer", SystemID: "sys-1", WriteService: "ffe0", WriteCharacteristic: "ffe1"})
		s.reg.Upsert(&registry.Record{Identifier: "printer", SystemID: "sys-2"})

		rec, ok := s.reg.Lookup("printer")
		s.Require().True(ok)
		s.Equal("sys-2", rec.SystemID)
		s.False(rec.HasWriteHandles(), "replacement MUST NOT merge old handles")
		s.Equal(1, s.reg.Len())
	})

	s.Run("remove returns the record once", func() {
		rec, ok := s.reg.Remove("printer")
		s.True(ok)
		s.Equal("sys-2", rec.SystemID)

		_, ok = s.reg.Remove("printer")
		s.False(ok)
		s.Equal(0, s.reg.Len())
	})
}

func (s *RegistryTestSuite) TestReplaceFollowsTheLiveRecord() {
	// GOAL: Verify a record update never resurrects a record removed by a disconnect
	//
	// TEST SCENARIO: record stored → update ok → disconnect event → update refused → reconnect stores again

	rec := &registry.Record{Identifier: "printer", SystemID: "sys-1"}
	s.reg.Upsert(rec)

	updated := rec.Clone()
	updated.Subscribed = true
	s.True(s.reg.Replace(updated))
	cur, _ := s.reg.Lookup("printer")
	s.True(cur.Subscribed)

	s.False(s.reg.Replace(&registry.Record{Identifier: "printer", SystemID: "sys-2"}), "another device MUST NOT replace the record")

	s.reg.HandleEvent(device.ConnectionStateChanged("sys-1", false))
	s.False(s.reg.Replace(updated.Clone()), "a removed record MUST stay removed")
	s.Equal(0, s.reg.Len())

	s.reg.Upsert(rec.Clone())
	_, ok := s.reg.Lookup("printer")
	s.True(ok, "a record removed earlier MUST be storable again")
	s.Equal(1, s.reg.Len())
	s.Len(s.reg.Records(), 1)
}

func (s *RegistryTestSuite) TestReverseLookup() {
	s.reg.Upsert(&registry.Record{Identifier: "a", SystemID: "sys-a"})
	s.reg.Upsert(&registry.Record{Identifier: "b", SystemID: "sys-b"})

	rec, ok := s.reg.ReverseLookupBySystemID("sys-b")
	s.True(ok)
	s.Equal("b", rec.Identifier)

	_, ok = s.reg.ReverseLookupBySystemID("sys-c")
	s.False(ok)
	s.Len(s.reg.Records(), 2)
}

func (s *RegistryTestSuite) TestDisconnectEvent() {
	// GOAL: Verify a disconnection removes exactly one record and fires onClose exactly once
	//
	// TEST SCENARIO: two records → duplicate disconnect events for one system id → only that record removed, onClose fired once

	var closedA, closedB atomic.Int32
	s.reg.Upsert(&registry.Record{Identifier: "a", SystemID: "sys-a", OnClose: func() { closedA.Add(1) }})
	s.reg.Upsert(&registry.Record{Identifier: "b", SystemID: "sys-b", OnClose: func() { closedB.Add(1) }})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.reg.HandleEvent(device.ConnectionStateChanged("sys-a", false))
		}()
	}
	wg.Wait()

	s.Equal(int32(1), closedA.Load(), "onClose MUST fire exactly once")
	s.Equal(int32(0), closedB.Load())
	_, ok := s.reg.Lookup("a")
	s.False(ok)
	_, ok = s.reg.Lookup("b")
	s.True(ok)
}

func (s *RegistryTestSuite) TestConnectedEventIsIgnored() {
	s.reg.Upsert(&registry.Record{Identifier: "a", SystemID: "sys-a"})
	s.reg.HandleEvent(device.ConnectionStateChanged("sys-a", true))
	s.Equal(1, s.reg.Len())
}

func (s *RegistryTestSuite) TestAdapterUnavailableClearsRegistry() {
	closed := false
	s.reg.Upsert(&registry.Record{Identifier: "a", SystemID: "sys-a", OnClose: func() { closed = true }})
	s.reg.Upsert(&registry.Record{Identifier: "b", SystemID: "sys-b"})

	s.reg.HandleEvent(device.AdapterStateChanged(true))
	s.Equal(2, s.reg.Len())

	s.reg.HandleEvent(device.AdapterStateChanged(false))
	s.Equal(0, s.reg.Len())
	s.False(closed, "adapter loss MUST NOT fire onClose")
}

func (s *RegistryTestSuite) TestValueChangeForwardsCopy() {
	var got []byte
	s.reg.Upsert(&registry.Record{Identifier: "a", SystemID: "sys-a", OnNotify: func(b []byte) { got = b }})

	value := []byte{0x01, 0x02}
	s.reg.HandleEvent(device.ValueChanged("sys-a", "ffe1", value))
	value[0] = 0xff

	s.Equal([]byte{0x01, 0x02}, got)

	s.NotPanics(func() {
		s.reg.HandleEvent(device.ValueChanged("sys-unknown", "ffe1", value))
	})
}

func (s *RegistryTestSuite) TestCallbackPanicsAreContained() {
	s.reg.Upsert(&registry.Record{
		Identifier: "a",
		SystemID:   "sys-a",
		OnNotify:   func([]byte) { panic("notify boom") },
		OnClose:    func() { panic("close boom") },
	})

	s.NotPanics(func() {
		s.reg.HandleEvent(device.ValueChanged("sys-a", "ffe1", []byte{1}))
		s.reg.HandleEvent(device.ConnectionStateChanged("sys-a", false))
	})

	var panics int
	for _, e := range s.hook.AllEntries() {
		if e.Message == "Device callback panicked" {
			panics++
		}
	}
	s.Equal(2, panics, "each panic MUST be logged")
	s.Equal(0, s.reg.Len())
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"maps"
	"slices"
)

type ScanKind int

const (
	ScanConnected ScanKind = iota
	ScanDisconnected
)

// ScanEvent is one change found by Scanner.Scan.
// Connected events always carry a CRTC; Disconnected ones carry the CRTC
// the connector was driven by, if it had one.
type ScanEvent struct {
	Kind      ScanKind
	Connector Connector
	CRTC      CRTC
	HasCRTC   bool
}

// ConnectorSource is what a Scanner reads resources from
type ConnectorSource interface {
	Resources() (Resources, error)
}

type scanned struct {
	crtc    CRTC
	hasCRTC bool
}

// Scanner remembers the connectors it reported as connected and diffs every
// new scan against that. Connectors it could not find a free CRTC for are kept
// as pending and retried on the next scan.
type Scanner struct {
	connected map[ConnectorID]scanned
}

func NewScanner() *Scanner {
	return &Scanner{connected: map[ConnectorID]scanned{}}
}

func (s *Scanner) Scan(src ConnectorSource) ([]ScanEvent, error) {
	res, err := src.Resources()
	if err != nil {
		return nil, err
	}
	if s.connected == nil {
		s.connected = map[ConnectorID]scanned{}
	}

	current := make(map[ConnectorID]Connector, len(res.Connectors))
	for _, c := range res.Connectors {
		current[c.ID] = c
	}

	var events []ScanEvent
	// Disconnects first so their CRTCs can be handed out in the same scan
	for _, id := range sortedIDs(s.connected) {
		prev := s.connected[id]
		c, ok := current[id]
		if ok && c.Connection == Connected {
			continue
		}
		if !ok {
			c = Connector{ID: id}
		}
		delete(s.connected, id)
		if prev.hasCRTC {
			events = append(events, ScanEvent{
				Kind:      ScanDisconnected,
				Connector: c,
				CRTC:      prev.crtc,
				HasCRTC:   true,
			})
		}
	}

	used := map[CRTC]bool{}
	for _, st := range s.connected {
		if st.hasCRTC {
			used[st.crtc] = true
		}
	}

	for _, c := range res.Connectors {
		if c.Connection != Connected {
			continue
		}
		if st, known := s.connected[c.ID]; known && st.hasCRTC {
			continue
		}
		crtc, ok := pickCRTC(res, c, used)
		if !ok {
			s.connected[c.ID] = scanned{}
			continue
		}
		used[crtc] = true
		s.connected[c.ID] = scanned{crtc: crtc, hasCRTC: true}
		events = append(events, ScanEvent{
			Kind:      ScanConnected,
			Connector: c,
			CRTC:      crtc,
			HasCRTC:   true,
		})
	}
	return events, nil
}

// CRTC currently assigned to a connector by this scanner
func (s *Scanner) CRTCFor(id ConnectorID) (CRTC, bool) {
	st, ok := s.connected[id]
	return st.crtc, ok && st.hasCRTC
}

// Prefers the CRTC the connector's current encoder already drives,
// then the first free CRTC any of its encoders can reach.
func pickCRTC(res Resources, c Connector, used map[CRTC]bool) (CRTC, bool) {
	if c.Encoder != 0 {
		if enc, ok := res.encoder(c.Encoder); ok && enc.CRTC != 0 && !used[enc.CRTC] {
			for _, crtc := range res.CRTCs {
				if crtc == enc.CRTC {
					return crtc, true
				}
			}
		}
	}
	for _, encID := range c.Encoders {
		enc, ok := res.encoder(encID)
		if !ok {
			continue
		}
		for i, crtc := range res.CRTCs {
			if i >= 32 || enc.PossibleCRTCs&(1<<uint(i)) == 0 {
				continue
			}
			if !used[crtc] {
				return crtc, true
			}
		}
	}
	return 0, false
}

func sortedIDs(m map[ConnectorID]scanned) []ConnectorID {
	return slices.Sorted(maps.Keys(m))
}

package store

import (
	"time"

	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/model"
	"github.com/tinylib/msgp/msgp"
)

// marshalStats hand-encodes a model.VolumeStats row using the msgp
// runtime primitives directly (no go generate step): a fixed-arity array
// keeps the wire format compact and avoids reflection on every write.
func marshalStats(s *model.VolumeStats) []byte {
	b := msgp.AppendArrayHeader(nil, 8)
	b = msgp.AppendString(b, s.VolumeUUID)
	b = msgp.AppendInt(b, s.CurrentPage)
	b = msgp.AppendInt(b, s.CharactersRead)
	b = msgp.AppendFloat64(b, s.MinutesRead)
	b = msgp.AppendBool(b, s.Completed)
	b = msgp.AppendTime(b, s.LastUpdate)

	b = msgp.AppendArrayHeader(b, uint32(len(s.RecentPageTurns)))
	for _, pt := range s.RecentPageTurns {
		b = msgp.AppendArrayHeader(b, 2)
		b = msgp.AppendInt(b, pt.Page)
		b = msgp.AppendTime(b, pt.At)
	}

	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendBool(b, s.Viewer.SinglePage)
	b = msgp.AppendBool(b, s.Viewer.RightToLeft)
	b = msgp.AppendBool(b, s.Viewer.HasCover)
	return b
}

func unmarshalStats(b []byte) (*model.VolumeStats, error) {
	var (
		s   model.VolumeStats
		err error
	)
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	if sz < 7 {
		return nil, coserrors.New(coserrors.KindSchema, "volume stats: truncated record")
	}
	if s.VolumeUUID, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, err
	}
	if s.CurrentPage, b, err = msgp.ReadIntBytes(b); err != nil {
		return nil, err
	}
	if s.CharactersRead, b, err = msgp.ReadIntBytes(b); err != nil {
		return nil, err
	}
	if s.MinutesRead, b, err = msgp.ReadFloat64Bytes(b); err != nil {
		return nil, err
	}
	if s.Completed, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, err
	}
	var lastUpdate time.Time
	if lastUpdate, b, err = msgp.ReadTimeBytes(b); err != nil {
		return nil, err
	}
	s.LastUpdate = lastUpdate

	var turnsLen uint32
	if turnsLen, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, err
	}
	s.RecentPageTurns = make([]model.PageTurnEvent, 0, turnsLen)
	for i := uint32(0); i < turnsLen; i++ {
		if _, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return nil, err
		}
		var pt model.PageTurnEvent
		if pt.Page, b, err = msgp.ReadIntBytes(b); err != nil {
			return nil, err
		}
		if pt.At, b, err = msgp.ReadTimeBytes(b); err != nil {
			return nil, err
		}
		s.RecentPageTurns = append(s.RecentPageTurns, pt)
	}

	if _, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, err
	}
	if s.Viewer.SinglePage, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, err
	}
	if s.Viewer.RightToLeft, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, err
	}
	if s.Viewer.HasCover, _, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, err
	}
	return &s, nil
}

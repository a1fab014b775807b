package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// stateDigest hashes every actor's simulation state in configuration order.
// Session bookkeeping is not part of it.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteF64(h, &tmp, w.simTime)
	digestWriteU64(h, &tmp, uint64(len(w.actors)))

	for _, a := range w.actors {
		s := a.Save()
		h.Write([]byte(s.ID))
		h.Write([]byte{0})
		for _, v := range s.Pos {
			digestWriteF64(h, &tmp, v)
		}
		digestWriteF64(h, &tmp, s.Yaw)
		digestWriteF64(h, &tmp, s.LastUpdate)
		digestWriteF64(h, &tmp, s.ScriptTime)
		h.Write([]byte{boolByte(s.HasOverride)})
		if s.HasOverride {
			for _, v := range s.Override {
				digestWriteF64(h, &tmp, v)
			}
		}

		p := s.Planner
		h.Write([]byte(p.Mode))
		h.Write([]byte{0})
		digestWriteI64(h, &tmp, int64(p.Cycle))
		h.Write([]byte{boolByte(p.Latched)})
		for _, v := range p.LatchedAt {
			digestWriteF64(h, &tmp, v)
		}
		for _, v := range p.Target {
			digestWriteF64(h, &tmp, v)
		}
		digestWriteU64(h, &tmp, p.Draws)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

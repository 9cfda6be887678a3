package dex

import (
	"fmt"

	"github.com/droidscope/apkparser/apkerr"
	"github.com/droidscope/apkparser/internal/cursor"
)

const codeItemHeaderSize = 16

// CodeItem is a method body. Instructions are kept as raw 16-bit code units.
type CodeItem struct {
	Offset        uint32
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	TriesSize     uint16
	DebugInfoOff  uint32
	Insns         []uint16
	Tries         []TryItem
	Handlers      []*CatchHandler
	DebugInfo     *DebugInfo
}

type TryItem struct {
	StartAddr uint32
	InsnCount uint16
	// HandlerOff is the byte offset into the encoded handler list.
	HandlerOff uint16
	Handler    *CatchHandler
}

// CatchHandler is one encoded_catch_handler.
type CatchHandler struct {
	Offset      uint32
	Catches     []CatchType
	HasCatchAll bool
	CatchAll    uint32
}

type CatchType struct {
	Type string
	Addr uint32
}

// DebugInfo holds the head of a debug_info_item. The opcode stream that
// follows the parameter names is not decoded.
type DebugInfo struct {
	LineStart uint32
	// ParameterNames has "" for parameters without a name.
	ParameterNames []string
}

func (d *decoder) readCode(off uint32) (*CodeItem, error) {
	if uint64(off)+codeItemHeaderSize > uint64(len(d.data)) {
		return nil, apkerr.Errorf("", int64(off), "%w: code item", apkerr.ErrOutOfBounds)
	}
	r := cursor.NewAt(d.data, int(off))
	c := &CodeItem{Offset: off}
	var err error
	for _, v := range []*uint16{&c.RegistersSize, &c.InsSize, &c.OutsSize, &c.TriesSize} {
		if *v, err = r.U16(); err != nil {
			return nil, err
		}
	}
	if c.DebugInfoOff, err = r.U32(); err != nil {
		return nil, err
	}
	insnsSize, err := r.U32()
	if err != nil {
		return nil, err
	}
	if uint64(insnsSize)*2 > uint64(r.Remaining()) {
		return nil, apkerr.Errorf("", int64(r.Pos()), "%w: %d instruction units", apkerr.ErrOutOfBounds, insnsSize)
	}
	c.Insns = make([]uint16, insnsSize)
	for i := range c.Insns {
		if c.Insns[i], err = r.U16(); err != nil {
			return nil, err
		}
	}

	if c.TriesSize > 0 {
		if insnsSize%2 == 1 {
			if err := r.Skip(2); err != nil {
				return nil, err
			}
		}
		if err := d.readTries(r, c); err != nil {
			return nil, err
		}
	}

	if c.DebugInfoOff != 0 {
		if c.DebugInfo, err = d.readDebugInfo(c.DebugInfoOff); err != nil {
			return nil, fmt.Errorf("debug info: %w", err)
		}
	}
	return c, nil
}

func (d *decoder) readTries(r *cursor.Reader, c *CodeItem) error {
	c.Tries = make([]TryItem, c.TriesSize)
	for i := range c.Tries {
		t := &c.Tries[i]
		var err error
		if t.StartAddr, err = r.U32(); err != nil {
			return err
		}
		if t.InsnCount, err = r.U16(); err != nil {
			return err
		}
		if t.HandlerOff, err = r.U16(); err != nil {
			return err
		}
	}

	listOff := r.Pos()
	count, err := r.Uleb128()
	if err != nil {
		return err
	}
	byOff := make(map[uint32]*CatchHandler, count)
	for i := uint32(0); i < count; i++ {
		h, err := d.readHandler(r, uint32(r.Pos()-listOff))
		if err != nil {
			return fmt.Errorf("handler %d: %w", i, err)
		}
		c.Handlers = append(c.Handlers, h)
		byOff[h.Offset] = h
	}

	for i := range c.Tries {
		t := &c.Tries[i]
		h, ok := byOff[uint32(t.HandlerOff)]
		if !ok {
			return apkerr.Errorf("", int64(listOff), "%w: try %d handler offset 0x%x", apkerr.ErrInvalidIndex, i, t.HandlerOff)
		}
		t.Handler = h
	}
	return nil
}

func (d *decoder) readHandler(r *cursor.Reader, rel uint32) (*CatchHandler, error) {
	size, err := r.Sleb128()
	if err != nil {
		return nil, err
	}
	h := &CatchHandler{Offset: rel, HasCatchAll: size <= 0}
	n := size
	if n < 0 {
		n = -n
	}
	for j := int32(0); j < n; j++ {
		typeIdx, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		addr, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		typ, err := d.typ(typeIdx)
		if err != nil {
			return nil, err
		}
		h.Catches = append(h.Catches, CatchType{Type: typ, Addr: addr})
	}
	if h.HasCatchAll {
		if h.CatchAll, err = r.Uleb128(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (d *decoder) readDebugInfo(off uint32) (*DebugInfo, error) {
	r := cursor.NewAt(d.data, int(off))
	lineStart, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	n, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Remaining()) {
		return nil, apkerr.Errorf("", int64(r.Pos()), "%w: %d parameter names", apkerr.ErrOutOfBounds, n)
	}
	info := &DebugInfo{LineStart: lineStart, ParameterNames: make([]string, n)}
	for i := range info.ParameterNames {
		idx, err := r.Uleb128p1()
		if err != nil {
			return nil, err
		}
		if idx < 0 {
			continue
		}
		if info.ParameterNames[i], err = d.str(uint32(idx)); err != nil {
			return nil, err
		}
	}
	return info, nil
}

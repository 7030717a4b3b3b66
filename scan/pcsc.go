package scan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ebfe/scard"
)

// PC/SC: GET DATA (UID/IDm)
var getUIDAPDU = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}

// PCSCReader は pcscd 経由で最初に見つかったリーダーを使う
type PCSCReader struct {
	ctx    *scard.Context
	reader string
}

func NewPCSCReader() (*PCSCReader, error) {
	sctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}
	readers, err := sctx.ListReaders()
	if err != nil || len(readers) == 0 {
		_ = sctx.Release()
		if err == nil {
			err = errors.New("no reader found")
		}
		return nil, fmt.Errorf("list PC/SC readers: %w", err)
	}
	return &PCSCReader{ctx: sctx, reader: readers[0]}, nil
}

func (r *PCSCReader) ReadOne(_ context.Context, timeout time.Duration) (string, error) {
	rs := []scard.ReaderState{{Reader: r.reader, CurrentState: scard.StateEmpty}}
	if err := r.ctx.GetStatusChange(rs, timeout); err != nil {
		if err == scard.ErrTimeout {
			return "", nil
		}
		return "", err
	}
	if rs[0].EventState&scard.StatePresent == 0 {
		return "", nil
	}

	card, err := r.ctx.Connect(r.reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return "", err
	}
	defer card.Disconnect(scard.LeaveCard)

	resp, err := card.Transmit(getUIDAPDU)
	if err != nil {
		return "", err
	}
	if len(resp) < 2 {
		return "", fmt.Errorf("short GET DATA response (%d bytes)", len(resp))
	}
	sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return "", fmt.Errorf("GET DATA failed: SW=%02X%02X", sw1, sw2)
	}
	uid := resp[:len(resp)-2]
	if len(uid) == 0 {
		return "", nil
	}
	return strings.ToUpper(hex.EncodeToString(uid)), nil
}

func (r *PCSCReader) Close() error {
	return r.ctx.Release()
}

package safe_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/utils/safe"
)

type failingCloser struct{ closed bool }

func (f *failingCloser) Close() error {
	f.closed = true
	return errors.New("boom")
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	safe.Close(ctx, nil)

	c := &failingCloser{}
	safe.Close(ctx, c)
	gt.Bool(t, c.closed).True()
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	safe.Encode(context.Background(), &buf, map[string]int{"count": 3})
	gt.String(t, buf.String()).Equal("{\"count\":3}\n")
}

func TestDrain(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("leftover")}
	safe.Drain(context.Background(), body)
	gt.Bool(t, body.closed).True()

	rest, err := io.ReadAll(body)
	gt.NoError(t, err)
	gt.Number(t, len(rest)).Equal(0)
}

package ocr

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

type closingRecognizer struct {
	closed atomic.Int32
}

func (c *closingRecognizer) Recognize(ctx context.Context, page *raster.Page) (*Result, error) {
	return &Result{Words: []Word{{Text: "NAME", Line: 0}}}, nil
}

func (c *closingRecognizer) Close() error {
	c.closed.Add(1)
	return nil
}

func testPage(t *testing.T) *raster.Page {
	t.Helper()
	page, err := raster.NewPage(1, image.NewRGBA(image.Rect(0, 0, 10, 10)), 792, 1.5)
	require.NoError(t, err)
	return page
}

func TestSessionOpensOnce(t *testing.T) {
	var opens atomic.Int32
	rec := &closingRecognizer{}
	s := NewSession(func(ctx context.Context) (Recognizer, error) {
		opens.Add(1)
		return rec, nil
	}, nil)

	page := testPage(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Recognize(context.Background(), page)
			assert.NoError(t, err)
			assert.Len(t, res.Words, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), rec.closed.Load())
}

func TestSessionUseAfterClose(t *testing.T) {
	s := NewSession(func(ctx context.Context) (Recognizer, error) {
		return &closingRecognizer{}, nil
	}, nil)
	require.NoError(t, s.Close())

	_, err := s.Recognize(context.Background(), testPage(t))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionOpenFailureIsSticky(t *testing.T) {
	boom := errors.New("no traineddata")
	var opens atomic.Int32
	s := NewSession(func(ctx context.Context) (Recognizer, error) {
		opens.Add(1)
		return nil, boom
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := s.Recognize(context.Background(), testPage(t))
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(1), opens.Load())
	assert.NoError(t, s.Close())
}

func TestLinesFromWords(t *testing.T) {
	words := []Word{
		{Text: "FIRST", Box: geometry.NewRect(10, 10, 50, 20), Line: 0},
		{Text: "stray", Box: geometry.NewRect(0, 0, 5, 5), Line: -1},
		{Text: "Phone", Box: geometry.NewRect(10, 40, 60, 52), Line: 1},
		{Text: "NAME:", Box: geometry.NewRect(55, 9, 100, 21), Line: 0},
	}

	lines := LinesFromWords(words)
	require.Len(t, lines, 2)
	assert.Equal(t, "FIRST NAME:", lines[0].Text)
	assert.Equal(t, geometry.NewRect(10, 9, 100, 21), lines[0].Box)
	assert.Equal(t, "Phone", lines[1].Text)
}

package majordomo

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/lmittmann/tint"
)

//go:embed card.html
var rankCardTemplateHTML string

var rankCardTemplate = template.Must(
	template.New("rank_card").Parse(rankCardTemplateHTML),
)

// RankCardData is the data rendered into the rank card image
type RankCardData struct {
	Username   string
	Level      int
	Experience int
	NextLevel  int
	TotalExp   int
	Rank       int64
	AvatarURL  string
}

// Percent returns level progress as 0-100, for the progress bar width
func (d RankCardData) Percent() int {
	if d.NextLevel <= 0 {
		return 100
	}
	pct := d.Experience * 100 / d.NextLevel
	if pct > 100 {
		pct = 100
	}
	return pct
}

// RankCardRenderer produces rank card images by rendering an HTML template
// in headless Chrome and screenshotting the card element. Rendering is
// best-effort: callers fall back to a text response when Chrome isn't
// available.
type RankCardRenderer struct {
	logger  *slog.Logger
	timeout time.Duration
}

func newRankCardRenderer(timeout time.Duration, logger *slog.Logger) *RankCardRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultCardRenderTimeout
	}
	return &RankCardRenderer{logger: logger, timeout: timeout}
}

// Render returns a PNG of the rank card for the given data
func (r *RankCardRenderer) Render(
	ctx context.Context,
	data RankCardData,
) (io.Reader, error) {
	started := time.Now()

	var buf bytes.Buffer
	if err := rankCardTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("error executing card template: %w", err)
	}
	htmlContent := strings.ReplaceAll(buf.String(), "#", "%23")
	htmlContent = strings.ReplaceAll(htmlContent, "\n", "")

	chromedpCtx, cancel := chromedp.NewContext(
		ctx,
		chromedp.WithLogf(func(string, ...any) {}),
	)
	defer cancel()

	chromedpCtx, cancel = context.WithTimeout(chromedpCtx, r.timeout)
	defer cancel()

	var imageBytes []byte
	err := chromedp.Run(
		chromedpCtx,
		chromedp.Navigate("data:text/html,"+htmlContent),
		chromedp.WaitVisible("#rank-card", chromedp.ByID),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.Screenshot("#rank-card", &imageBytes, chromedp.ByID),
	)
	if err != nil {
		r.logger.Error(
			"error rendering rank card",
			tint.Err(err),
			"elapsed", time.Since(started),
		)
		return nil, fmt.Errorf("error rendering rank card: %w", err)
	}

	r.logger.Debug(
		"rendered rank card",
		"image_size", len(imageBytes),
		"elapsed", time.Since(started),
	)
	return bytes.NewReader(imageBytes), nil
}

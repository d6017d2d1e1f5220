package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/metrics"
	"github.com/JakeFAU/channel-relay/internal/relay"
)

const (
	selPostList   = "div.posts-list.lm-list-container"
	selPost       = "div.card.card-body.border.p-2.px-1.px-sm-3.post-container"
	selText       = ".post-text"
	selShare      = `a[data-src*="/share"]`
	selDate       = ".media-body.text-truncate small"
	selThumbText  = "div.thumbnail-text"
	selCarousel   = "div.carousel-inner"
	selVideo      = ".wrapper-video-video source"
	selImage      = "img.post-img-img"
	videoNoticeRU = "Видео недоступно для предпросмотра"
)

var (
	brTag      = regexp.MustCompile(`(?i)<br\s*/?>`)
	siteLinkRe = regexp.MustCompile(`(?i)<a\s+href="https?://tgstat\.ru/channel/(@\w+)"\s*>(@\w+)</a>`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
	"янв": time.January, "фев": time.February, "мар": time.March, "апр": time.April,
	"мая": time.May, "май": time.May, "июн": time.June, "июл": time.July,
	"авг": time.August, "сен": time.September, "окт": time.October, "ноя": time.November,
	"дек": time.December,
}

// Extractor turns a raw source page into posts. It performs no I/O.
type Extractor struct {
	clock    relay.Clock
	location *time.Location
	base     *url.URL
	logger   *zap.Logger
}

// NewExtractor creates an Extractor. Page timestamps are read in loc and
// relative media URLs are resolved against baseURL.
func NewExtractor(clock relay.Clock, loc *time.Location, baseURL string, logger *zap.Logger) (*Extractor, error) {
	if loc == nil {
		loc = time.UTC
	}
	if baseURL == "" {
		baseURL = "https://tgstat.ru/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{clock: clock, location: loc, base: base, logger: logger}, nil
}

// Extract parses html into posts sorted by id, newest first. A page without the
// post-list container fails with PostListMissing; a present but empty list
// yields no posts and no error. A block without an id fails the page; any other
// unreadable block is skipped.
func (e *Extractor) Extract(html string, source string) ([]relay.Post, error) {
	source = relay.NormalizeHandle(source)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, NewError(ScrapeFailed, source, fmt.Errorf("parse html: %w", err))
	}
	list := doc.Find(selPostList).First()
	if list.Length() == 0 {
		return nil, NewError(PostListMissing, source, nil)
	}

	var (
		posts    []relay.Post
		parseErr error
	)
	list.Find(selPost).EachWithBreak(func(i int, block *goquery.Selection) bool {
		post, ok, err := e.parsePost(block, source)
		if err != nil {
			if KindOf(err) == PostIDMissing {
				parseErr = fmt.Errorf("post block %d: %w", i, err)
				return false
			}
			metrics.ObservePostSkipped(source)
			e.logger.Warn("skipping unreadable post block",
				zap.String("source", source),
				zap.Int("block", i),
				zap.Error(err),
			)
			return true
		}
		if ok {
			posts = append(posts, post)
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	sort.SliceStable(posts, func(i, j int) bool { return posts[i].ID > posts[j].ID })
	return posts, nil
}

func (e *Extractor) parsePost(block *goquery.Selection, source string) (relay.Post, bool, error) {
	if unextractableMedia(block) {
		return relay.Post{}, false, nil
	}
	text, err := postText(block)
	if err != nil {
		return relay.Post{}, false, NewError(ScrapeFailed, source, err)
	}
	media := e.postMedia(block)
	if text == "" && len(media) == 0 {
		return relay.Post{}, false, nil
	}

	id, err := postID(block)
	if err != nil {
		return relay.Post{}, false, NewError(PostIDMissing, source, err)
	}
	created, err := e.postTime(block)
	if err != nil {
		return relay.Post{}, false, NewError(ScrapeFailed, source, fmt.Errorf("post %d: %w", id, err))
	}
	return relay.Post{
		ID:        id,
		Source:    source,
		Text:      text,
		CreatedAt: created,
		Media:     media,
	}, true, nil
}

// unextractableMedia reports the markers that make a post's media ambiguous.
func unextractableMedia(block *goquery.Selection) bool {
	unavailable := false
	block.Find(selThumbText).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(spaceRe.ReplaceAllString(s.Text(), " "), videoNoticeRU) {
			unavailable = true
			return false
		}
		return true
	})
	if unavailable {
		return true
	}
	return block.Find(selCarousel).Length() > 0
}

func postText(block *goquery.Selection) (string, error) {
	node := block.Find(selText).First()
	if node.Length() == 0 {
		return "", nil
	}
	inner, err := node.Html()
	if err != nil {
		return "", fmt.Errorf("render post text: %w", err)
	}
	inner = brTag.ReplaceAllString(inner, "\n")
	inner = siteLinkRe.ReplaceAllStringFunc(inner, func(m string) string {
		parts := siteLinkRe.FindStringSubmatch(m)
		if !strings.EqualFold(parts[1], parts[2]) {
			return m
		}
		return parts[1]
	})
	return strings.TrimSpace(inner), nil
}

// postID reads the id from a share link shaped like /channel/@handle/<id>/share.
func postID(block *goquery.Selection) (int64, error) {
	src, ok := block.Find(selShare).First().Attr("data-src")
	if !ok || src == "" {
		return 0, fmt.Errorf("share link not found")
	}
	segments := strings.Split(src, "/")
	if len(segments) > 3 {
		if id, err := strconv.ParseInt(segments[3], 10, 64); err == nil {
			return id, nil
		}
	}
	for i := len(segments) - 1; i >= 0; i-- {
		if id, err := strconv.ParseInt(segments[i], 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no numeric id in share link %q", src)
}

func (e *Extractor) postTime(block *goquery.Selection) (time.Time, error) {
	node := block.Find(selDate).First()
	if node.Length() == 0 {
		return time.Time{}, fmt.Errorf("date not found")
	}
	now := time.Now()
	if e.clock != nil {
		now = e.clock.Now()
	}
	return parsePostTime(strings.TrimSpace(node.Text()), now.In(e.location).Year(), e.location)
}

// parsePostTime accepts "02 Jan 2006, 15:04" and "02 Jan, 15:04"; the second
// form takes the given year.
func parsePostTime(raw string, year int, loc *time.Location) (time.Time, error) {
	datePart, clockPart, ok := strings.Cut(raw, ",")
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected date %q", raw)
	}
	fields := strings.Fields(datePart)
	if len(fields) < 2 || len(fields) > 3 {
		return time.Time{}, fmt.Errorf("unexpected date %q", raw)
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("day in %q: %w", raw, err)
	}
	month, ok := lookupMonth(fields[1])
	if !ok {
		return time.Time{}, fmt.Errorf("month in %q", raw)
	}
	if len(fields) == 3 {
		if year, err = strconv.Atoi(fields[2]); err != nil {
			return time.Time{}, fmt.Errorf("year in %q: %w", raw, err)
		}
	}
	hm, err := time.Parse("15:04", strings.TrimSpace(clockPart))
	if err != nil {
		return time.Time{}, fmt.Errorf("time in %q: %w", raw, err)
	}
	return time.Date(year, month, day, hm.Hour(), hm.Minute(), 0, 0, loc).UTC(), nil
}

func lookupMonth(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	runes := []rune(s)
	if len(runes) > 3 {
		if m, ok := monthNames[string(runes[:3])]; ok {
			return m, true
		}
	}
	m, ok := monthNames[s]
	return m, ok
}

// postMedia collects at most one video and one image, video first.
func (e *Extractor) postMedia(block *goquery.Selection) []relay.Media {
	var media []relay.Media
	if src, ok := block.Find(selVideo).First().Attr("src"); ok && src != "" {
		media = append(media, relay.Media{Kind: relay.MediaVideo, URL: e.resolve(src)})
	}
	if src, ok := block.Find(selImage).First().Attr("src"); ok && src != "" {
		media = append(media, relay.Media{Kind: relay.MediaImage, URL: e.resolve(src)})
	}
	return media
}

func (e *Extractor) resolve(raw string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return e.base.ResolveReference(ref).String()
}

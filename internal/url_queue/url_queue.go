package urlqueue

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// URLQueue holds the outbound links of one post waiting to be graded.
// With dedupe off every Add is queued, so a link cited twice is graded twice.
// With dedupe on the post's own URL counts as already seen.
type URLQueue struct {
	seen     map[string]bool
	queue    []string
	dedupe   bool
	excludes []*regexp.Regexp
	mu       sync.Mutex
}

func NewURLQueue(source string, dedupe bool, excludePatterns []string) *URLQueue {
	q := &URLQueue{
		seen:   make(map[string]bool),
		queue:  make([]string, 0),
		dedupe: dedupe,
	}
	for _, p := range excludePatterns {
		if re, err := regexp.Compile(p); err == nil {
			q.excludes = append(q.excludes, re)
		}
	}
	if dedupe && source != "" {
		q.seen[NormalizeURL(source)] = true
	}
	return q
}

func (q *URLQueue) Add(urlStr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, re := range q.excludes {
		if re.MatchString(urlStr) {
			return false
		}
	}

	normalized := NormalizeURL(urlStr)
	if q.dedupe && q.seen[normalized] {
		return false
	}
	q.seen[normalized] = true
	q.queue = append(q.queue, urlStr)
	return true
}

func (q *URLQueue) AddAll(urls []string) int {
	added := 0
	for _, u := range urls {
		if q.Add(u) {
			added++
		}
	}
	return added
}

func (q *URLQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return "", false
	}
	u := q.queue[0]
	q.queue = q.queue[1:]
	return u, true
}

func (q *URLQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}

	return parsed.String()
}

func ComputeContentHash(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}

package rip

import (
	"context"
	"errors"
	"sync"
)

type fakePage string

func (p fakePage) Location() string { return string(p) }

// fakeStrategy walks pages in order. When loop is set, NextPage returns the
// current page forever.
type fakeStrategy struct {
	caps     Capabilities
	pages    []fakePage
	items    map[fakePage][]string
	firstErr error
	nextErr  error
	loop     bool

	albumsRoot bool
	albums     []string

	descriptions map[fakePage][]string
	descTexts    map[string]string

	mu        sync.Mutex
	nextCalls int
}

func (s *fakeStrategy) FirstPage(context.Context) (Page, error) {
	if s.firstErr != nil {
		return nil, s.firstErr
	}
	return s.pages[0], nil
}

func (s *fakeStrategy) NextPage(_ context.Context, page Page) (Page, error) {
	s.mu.Lock()
	s.nextCalls++
	s.mu.Unlock()
	if s.nextErr != nil {
		return nil, s.nextErr
	}
	if s.loop {
		return page, nil
	}
	for i, p := range s.pages {
		if p.Location() == page.Location() && i+1 < len(s.pages) {
			return s.pages[i+1], nil
		}
	}
	return nil, nil
}

func (s *fakeStrategy) URLsFromPage(_ context.Context, page Page) ([]string, error) {
	return s.items[page.(fakePage)], nil
}

func (s *fakeStrategy) Capabilities() Capabilities { return s.caps }

func (s *fakeStrategy) PageContainsAlbums(string) bool { return s.albumsRoot }

func (s *fakeStrategy) AlbumsToQueue(context.Context, Page) ([]string, error) {
	return s.albums, nil
}

func (s *fakeStrategy) DescriptionsFromPage(_ context.Context, page Page) ([]string, error) {
	return s.descriptions[page.(fakePage)], nil
}

func (s *fakeStrategy) Description(_ context.Context, link string, _ Page) (Description, error) {
	text, ok := s.descTexts[link]
	if !ok {
		return Description{}, errors.New("description gone")
	}
	return Description{Text: text}, nil
}

// goPool runs every task on its own goroutine.
type goPool struct {
	wg        sync.WaitGroup
	mu        sync.Mutex
	submitted []Locator
	reject    error
}

func (p *goPool) Submit(ctx context.Context, task Task) error {
	if p.reject != nil {
		return p.reject
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		task.Run(ctx)
	}()
	return nil
}

func (p *goPool) Wait() { p.wg.Wait() }

func (p *goPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

// outcomeWorkers reports Errored with the mapped reason, Completed otherwise.
func outcomeWorkers(pool *goPool, failures map[string]string) WorkerFactory {
	return func(job Job, reporter Reporter) Task {
		pool.mu.Lock()
		pool.submitted = append(pool.submitted, job.Locator)
		pool.mu.Unlock()
		return TaskFunc(func(context.Context) {
			if reason, ok := failures[job.Locator.String()]; ok {
				reporter.Report(Errored(job.Locator, reason))
				return
			}
			reporter.Report(Completed(job.Locator, job.Path))
		})
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Update(evt Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evt)
}

func (o *recordingObserver) statuses() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Status, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.Status)
	}
	return out
}

func (o *recordingObserver) count(status Status) int {
	n := 0
	for _, s := range o.statuses() {
		if s == status {
			n++
		}
	}
	return n
}

type fixedHistory int

func (h fixedHistory) AlreadySeen() int { return int(h) }

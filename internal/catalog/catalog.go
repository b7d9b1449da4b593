package catalog

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

const (
	DefaultPage  = 1
	DefaultLimit = 12
	MaxLimit     = 100
)

type API interface {
	Get(ctx context.Context, path string, q any, auth bool) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any, auth bool) (json.RawMessage, error)
}

// PageQuery is embedded by every list query.
type PageQuery struct {
	Page   int    `url:"page,omitempty"`
	Limit  int    `url:"limit,omitempty"`
	Search string `url:"search,omitempty"`
	Sort   string `url:"sort,omitempty"`
}

func (p *PageQuery) normalize() {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
}

type CollegeQuery struct {
	PageQuery
	City     string `url:"city,omitempty"`
	State    string `url:"state,omitempty"`
	Verified *bool  `url:"verified,omitempty"`
}

type EventQuery struct {
	PageQuery
	College  string `url:"college,omitempty"`
	Club     string `url:"club,omitempty"`
	Category string `url:"category,omitempty"`
	Upcoming bool   `url:"upcoming,omitempty"`
}

type ProjectQuery struct {
	PageQuery
	College string   `url:"college,omitempty"`
	Tags    []string `url:"tags,comma,omitempty"`
}

type ClubQuery struct {
	PageQuery
	College  string `url:"college,omitempty"`
	Category string `url:"category,omitempty"`
}

type Catalog struct {
	api API

	// like toggles on the same project are serialized
	mu    sync.Mutex
	likes map[string]*sync.Mutex
}

func New(api API) *Catalog {
	return &Catalog{api: api, likes: make(map[string]*sync.Mutex)}
}

func (c *Catalog) Colleges(ctx context.Context, q CollegeQuery) (domain.Page[domain.College], error) {
	q.normalize()
	return list[domain.College](ctx, c.api, "/public/colleges", q)
}

func (c *Catalog) Events(ctx context.Context, q EventQuery) (domain.Page[domain.Event], error) {
	q.normalize()
	return list[domain.Event](ctx, c.api, "/public/events", q)
}

// Projects is fetched with the bearer when present so isLiked reflects the viewer.
func (c *Catalog) Projects(ctx context.Context, q ProjectQuery) (domain.Page[domain.Project], error) {
	q.normalize()
	raw, err := c.api.Get(ctx, "/public/projects", q, true)
	if err != nil {
		return domain.Page[domain.Project]{}, err
	}
	return gateway.Decode[domain.Page[domain.Project]](raw)
}

func (c *Catalog) Clubs(ctx context.Context, q ClubQuery) (domain.Page[domain.Club], error) {
	q.normalize()
	return list[domain.Club](ctx, c.api, "/public/clubs", q)
}

func list[T any](ctx context.Context, api API, path string, q any) (domain.Page[T], error) {
	raw, err := api.Get(ctx, path, q, false)
	if err != nil {
		logger.WarnContext(ctx, "Catalog fetch failed", "path", path, "error", err)
		return domain.Page[T]{}, err
	}
	page, err := gateway.Decode[domain.Page[T]](raw)
	if err != nil {
		return domain.Page[T]{}, err
	}
	if page.Data == nil {
		page.Data = []T{}
	}
	return page, nil
}

// ToggleLike flips p.Liked and adjusts p.Likes before the request goes out.
// On failure p is restored; on success the counts the server reports win.
func (c *Catalog) ToggleLike(ctx context.Context, p *domain.Project) error {
	lock := c.lockFor(p.ID)
	lock.Lock()
	defer lock.Unlock()

	prevLiked, prevLikes := p.Liked, p.Likes
	p.Liked = !p.Liked
	if p.Liked {
		p.Likes++
	} else if p.Likes > 0 {
		p.Likes--
	}

	raw, err := c.api.Post(ctx, "/projects/like/"+url.PathEscape(p.ID), nil, true)
	var res domain.LikeRes
	if err == nil {
		res, err = gateway.Decode[domain.LikeRes](raw)
	}
	if err != nil {
		p.Liked, p.Likes = prevLiked, prevLikes
		logger.WarnContext(ctx, "Like toggle rolled back", "project_id", p.ID, "error", err)
		return err
	}

	if res.Likes != nil {
		p.Likes = *res.Likes
	}
	if res.Liked != nil {
		p.Liked = *res.Liked
	}
	return nil
}

func (c *Catalog) lockFor(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.likes[id]
	if !ok {
		m = &sync.Mutex{}
		c.likes[id] = m
	}
	return m
}

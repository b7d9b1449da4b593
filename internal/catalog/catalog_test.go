package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/chapterhub/internal/catalog"
	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/gateway"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

func newCatalog(t *testing.T, h http.HandlerFunc) *catalog.Catalog {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return catalog.New(gateway.New(srv.URL, 0, staticTokens("tok")))
}

func TestColleges_DefaultsPageAndLimit(t *testing.T) {
	var gotQuery string
	c := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/colleges", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"success":true,"data":[{"_id":"c1","name":"RVCE","slug":"rvce"}],"total":1,"pages":1}`))
	})

	page, err := c.Colleges(context.Background(), catalog.CollegeQuery{City: "Bengaluru"})

	require.NoError(t, err)
	assert.Equal(t, "city=Bengaluru&limit=12&page=1", gotQuery)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "RVCE", page.Data[0].Name)
	assert.Equal(t, 1, page.Pages)
}

func TestEvents_ClampsLimitAndEncodesFilters(t *testing.T) {
	var gotQuery string
	c := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"success":true,"data":null,"total":0,"pages":0}`))
	})

	page, err := c.Events(context.Background(), catalog.EventQuery{
		PageQuery: catalog.PageQuery{Page: 2, Limit: 500, Search: "hack", Sort: "-startDate"},
		College:   "c1",
		Upcoming:  true,
	})

	require.NoError(t, err)
	assert.Equal(t, "college=c1&limit=100&page=2&search=hack&sort=-startDate&upcoming=true", gotQuery)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}

func TestProjects_SendsBearerAndTags(t *testing.T) {
	c := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "ai,iot", r.URL.Query().Get("tags"))
		w.Write([]byte(`{"success":true,"data":[{"_id":"p1","title":"Drone","likes":4,"isLiked":true}],"total":1,"pages":1}`))
	})

	page, err := c.Projects(context.Background(), catalog.ProjectQuery{Tags: []string{"ai", "iot"}})

	require.NoError(t, err)
	assert.True(t, page.Data[0].Liked)
	assert.Equal(t, 4, page.Data[0].Likes)
}

func TestClubs_ServerErrorSurfaces(t *testing.T) {
	c := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Clubs(context.Background(), catalog.ClubQuery{})

	assert.Equal(t, http.StatusInternalServerError, gateway.StatusOf(err))
	assert.Equal(t, "Request failed with status 500", gateway.Message(err, ""))
}

func TestToggleLike(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		start     domain.Project
		wantLiked bool
		wantLikes int
		wantErr   bool
	}{
		{
			name:      "like uses server count",
			status:    http.StatusOK,
			body:      `{"success":true,"likes":10,"isLiked":true}`,
			start:     domain.Project{ID: "p1", Likes: 4},
			wantLiked: true,
			wantLikes: 10,
		},
		{
			name:      "unlike keeps optimistic count when server omits it",
			status:    http.StatusOK,
			body:      `{"success":true}`,
			start:     domain.Project{ID: "p1", Likes: 4, Liked: true},
			wantLiked: false,
			wantLikes: 3,
		},
		{
			name:      "failure rolls back",
			status:    http.StatusInternalServerError,
			body:      `{"message":"boom"}`,
			start:     domain.Project{ID: "p1", Likes: 4},
			wantLiked: false,
			wantLikes: 4,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/projects/like/p1", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			p := tt.start
			err := c.ToggleLike(context.Background(), &p)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLiked, p.Liked)
			assert.Equal(t, tt.wantLikes, p.Likes)
		})
	}
}

package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-github/v44/github"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/terediX/pkg/resource"
)

type mockRepositoryLister struct {
	ListFunc func(ctx context.Context, user string, opts *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error)
}

func (m *mockRepositoryLister) List(ctx context.Context, user string, opts *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error) {
	return m.ListFunc(ctx, user, opts)
}

func newTestGitHub(repos RepositoryLister, fields []string) *GitHub {
	return &GitHub{
		name:   "gh",
		user:   "shaharia-lab",
		fields: fields,
		repos:  repos,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestGitHub_Scan(t *testing.T) {
	var pages []int
	mock := &mockRepositoryLister{
		ListFunc: func(_ context.Context, user string, opts *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error) {
			assert.Equal(t, "shaharia-lab", user)
			assert.Equal(t, 100, opts.PerPage)
			pages = append(pages, opts.Page)

			if opts.Page == 0 {
				return []*github.Repository{{
					FullName:        github.String("shaharia-lab/teredix"),
					Language:        github.String("Go"),
					Homepage:        github.String("https://teredix.io"),
					StargazersCount: github.Int(42),
					GitURL:          github.String("git://github.com/shaharia-lab/teredix.git"),
					Topics:          []string{"discovery", "cmdb"},
					Owner:           &github.User{Login: github.String("shaharia-lab"), Company: github.String("Shaharia Lab")},
					Organization:    &github.Organization{Name: github.String("Shaharia Lab")},
				}}, &github.Response{NextPage: 2}, nil
			}
			return []*github.Repository{{FullName: github.String("shaharia-lab/guti")}}, &github.Response{}, nil
		},
	}

	fields := []string{FieldCompany, FieldHomepage, FieldLanguage, FieldOrganization, FieldStars, FieldGitURL, FieldOwnerName, FieldOwnerLogin, FieldTopics}
	got, err := collect(t, newTestGitHub(mock, fields))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int{0, 2}, pages)

	repo := got[0]
	assert.Equal(t, resource.KindGitHubRepository, repo.Kind)
	assert.Equal(t, "shaharia-lab/teredix", repo.Name)
	assert.Equal(t, "shaharia-lab/teredix", repo.ExternalID)
	assert.Equal(t, map[string]string{
		FieldCompany:      "Shaharia Lab",
		FieldHomepage:     "https://teredix.io",
		FieldLanguage:     "Go",
		FieldOrganization: "Shaharia Lab",
		FieldStars:        "42",
		FieldGitURL:       "git://github.com/shaharia-lab/teredix.git",
		FieldOwnerLogin:   "shaharia-lab",
		FieldTopics:       `["discovery","cmdb"]`,
	}, repo.MetaData)

	// nil owner and organization are tolerated
	assert.Equal(t, map[string]string{FieldStars: "0"}, got[1].MetaData)
}

func TestGitHub_ScanError(t *testing.T) {
	mock := &mockRepositoryLister{
		ListFunc: func(context.Context, string, *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error) {
			return nil, nil, errors.New("bad credentials")
		},
	}

	got, err := collect(t, newTestGitHub(mock, nil))
	assert.Empty(t, got)

	var scanErr *ScanError
	require.True(t, errors.As(err, &scanErr))
	assert.Equal(t, resource.KindGitHubRepository, scanErr.Kind)
}

func TestNewGitHub(t *testing.T) {
	s, err := NewGitHub("gh", "token", "shaharia-lab", "", nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "gh", s.Name())
	assert.Equal(t, resource.KindGitHubRepository, s.Kind())

	_, err = NewGitHub("ghe", "token", "acme", "https://github.example.com/api/v3/", nil, zerolog.Nop())
	require.NoError(t, err)
}

package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/go-github/v44/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/shaharia-lab/terediX/pkg/resource"
)

// GitHub repository field names.
const (
	FieldCompany      = "company"
	FieldHomepage     = "homepage"
	FieldLanguage     = "language"
	FieldOrganization = "organization"
	FieldStars        = "stars"
	FieldGitURL       = "git_url"
	FieldOwnerName    = "owner_name"
	FieldOwnerLogin   = "owner_login"
	FieldTopics       = "topics"
)

const githubPageSize = 100

// RepositoryLister is the part of the GitHub repositories service the scanner uses.
type RepositoryLister interface {
	List(ctx context.Context, user string, opts *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error)
}

// GitHub discovers the repositories of a user or organization.
type GitHub struct {
	name   string
	user   string
	fields []string
	repos  RepositoryLister
	logger zerolog.Logger
	now    func() time.Time
}

// NewGitHub creates a repository scanner authenticated with a personal access token.
// baseURL selects a GitHub Enterprise server; empty means github.com.
func NewGitHub(name, token, user, baseURL string, fields []string, logger zerolog.Logger) (*GitHub, error) {
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	))

	client := github.NewClient(httpClient)
	if baseURL != "" {
		var err error
		client, err = github.NewEnterpriseClient(baseURL, baseURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("create github enterprise client: %w", err)
		}
	}

	return &GitHub{
		name:   name,
		user:   user,
		fields: fields,
		repos:  client.Repositories,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *GitHub) Name() string { return s.name }

func (s *GitHub) Kind() string { return resource.KindGitHubRepository }

// Scan lists every repository page by page and emits one resource per repository.
func (s *GitHub) Scan(ctx context.Context, out chan<- resource.Resource) error {
	opts := &github.RepositoryListOptions{ListOptions: github.ListOptions{PerPage: githubPageSize}}
	fetchedAt := s.now()

	for {
		repos, resp, err := s.repos.List(ctx, s.user, opts)
		if err != nil {
			return &ScanError{Source: s.name, Kind: resource.KindGitHubRepository, Err: fmt.Errorf("list repositories: %w", err)}
		}

		for _, repo := range repos {
			if err := Emit(ctx, out, s.toResource(repo, fetchedAt)); err != nil {
				return &ScanError{Source: s.name, Kind: resource.KindGitHubRepository, Err: err}
			}
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return nil
}

func (s *GitHub) toResource(repo *github.Repository, fetchedAt time.Time) resource.Resource {
	mapper := NewFieldMapper(map[string]func() string{
		FieldCompany:      func() string { return repo.GetOwner().GetCompany() },
		FieldHomepage:     repo.GetHomepage,
		FieldLanguage:     repo.GetLanguage,
		FieldOrganization: func() string { return repo.GetOrganization().GetName() },
		FieldStars:        func() string { return strconv.Itoa(repo.GetStargazersCount()) },
		FieldGitURL:       repo.GetGitURL,
		FieldOwnerName:    func() string { return repo.GetOwner().GetName() },
		FieldOwnerLogin:   func() string { return repo.GetOwner().GetLogin() },
		FieldTopics: func() string {
			if len(repo.Topics) == 0 {
				return ""
			}
			b, err := json.Marshal(repo.Topics)
			if err != nil {
				s.logger.Warn().Err(err).Str("repository", repo.GetFullName()).Msg("encode topics")
				return ""
			}
			return string(b)
		},
	}, nil, s.fields)

	return resource.New(resource.KindGitHubRepository, repo.GetFullName(), repo.GetFullName(), s.name, fetchedAt).
		WithMetaData(mapper.MetaData())
}

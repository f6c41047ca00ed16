// Package jobtools registers the job-search tools the agent can call:
// listing lookup, match scoring, artifact writing, and note taking.
package jobtools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/workseek/workseek/internal/tracing"
	"github.com/workseek/workseek/pkg/tool"
)

// Listing is one stored job listing.
type Listing struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Remote      bool   `json:"remote"`
	SalaryMin   int    `json:"salary_min,omitempty"`
	SalaryMax   int    `json:"salary_max,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description"`
	PostedAt    int64  `json:"posted_at"`
}

// NoteTaker stores a free-form note for later recall.
type NoteTaker interface {
	Remember(ctx context.Context, threadID, content string) (string, error)
}

// Options configures tool registration. Notes is optional; without it the
// remember_note tool is not offered.
type Options struct {
	ListingsDB   *sql.DB
	ArtifactsDir string
	Notes        NoteTaker
	Logger       zerolog.Logger
}

// OpenListingsDB opens (creating if needed) the listings database.
func OpenListingsDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("listings database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open listings database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS listings (
			id          TEXT    PRIMARY KEY,
			title       TEXT    NOT NULL,
			company     TEXT    NOT NULL,
			location    TEXT    NOT NULL DEFAULT '',
			remote      INTEGER NOT NULL DEFAULT 0,
			salary_min  INTEGER NOT NULL DEFAULT 0,
			salary_max  INTEGER NOT NULL DEFAULT 0,
			url         TEXT    NOT NULL DEFAULT '',
			description TEXT    NOT NULL DEFAULT '',
			posted_at   INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize listings schema: %w", err)
	}

	return db, nil
}

// Register adds the job-search tools to the registry.
func Register(registry *tool.Registry, opts Options) error {
	if registry == nil {
		return errors.New("registry is required")
	}
	if opts.ListingsDB == nil {
		return errors.New("listings database is required")
	}
	if opts.ArtifactsDir == "" {
		return errors.New("artifacts directory is required")
	}

	if err := os.MkdirAll(opts.ArtifactsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	definitions := []tool.Definition{
		{
			Name:        "lookup_listing",
			Description: "Look up a stored job listing by its ID and return its full details.",
			Parameters: []tool.Parameter{
				{Name: "id", Type: "string", Description: "Listing ID", Required: true},
			},
			Handler: lookupListingHandler(opts.ListingsDB),
		},
		{
			Name:        "search_listings",
			Description: "Search stored job listings by a keyword in the title, company, or description.",
			Parameters: []tool.Parameter{
				{Name: "keyword", Type: "string", Description: "Keyword to search for", Required: true},
				{Name: "remote_only", Type: "boolean", Description: "Only return remote listings", Required: false},
			},
			Handler: searchListingsHandler(opts.ListingsDB),
		},
		{
			Name:        "score_match",
			Description: "Score how well a candidate profile matches a stored listing, from 0 to 1, with the overlapping keywords.",
			Parameters: []tool.Parameter{
				{Name: "listing_id", Type: "string", Description: "Listing ID to score against", Required: true},
				{Name: "profile", Type: "string", Description: "Candidate profile or resume text", Required: true},
			},
			Handler: scoreMatchHandler(opts.ListingsDB),
		},
		{
			Name:        "save_artifact",
			Description: "Save a text artifact such as a cover letter or tailored resume and return its path.",
			Parameters: []tool.Parameter{
				{Name: "name", Type: "string", Description: "File name for the artifact", Required: true},
				{Name: "content", Type: "string", Description: "Artifact content", Required: true},
			},
			Handler: saveArtifactHandler(opts.ArtifactsDir),
		},
	}

	if opts.Notes != nil {
		definitions = append(definitions, tool.Definition{
			Name:        "remember_note",
			Description: "Remember a fact about the user's job search for later turns.",
			Parameters: []tool.Parameter{
				{Name: "note", Type: "string", Description: "The fact to remember", Required: true},
			},
			Handler: rememberNoteHandler(opts.Notes),
		})
	}

	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}

	opts.Logger.Info().Int("tools", len(definitions)).Msg("Job-search tools registered")
	return nil
}

func lookupListingHandler(db *sql.DB) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, _ := args["id"].(string)

		listing, err := getListing(ctx, db, id)
		if err != nil {
			return nil, err
		}
		return listing, nil
	}
}

func searchListingsHandler(db *sql.DB) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		keyword, _ := args["keyword"].(string)
		remoteOnly, _ := args["remote_only"].(bool)

		query := `
			SELECT id, title, company, location, remote, salary_min, salary_max, url, description, posted_at
			FROM listings
			WHERE (title LIKE ? OR company LIKE ? OR description LIKE ?)
		`
		pattern := "%" + keyword + "%"
		queryArgs := []interface{}{pattern, pattern, pattern}
		if remoteOnly {
			query += " AND remote = 1"
		}
		query += " ORDER BY posted_at DESC LIMIT 10"

		rows, err := db.QueryContext(ctx, query, queryArgs...)
		if err != nil {
			return nil, fmt.Errorf("failed to search listings: %w", err)
		}
		defer rows.Close()

		listings := []Listing{}
		for rows.Next() {
			l, err := scanListing(rows)
			if err != nil {
				return nil, err
			}
			listings = append(listings, *l)
		}
		return listings, rows.Err()
	}
}

func scoreMatchHandler(db *sql.DB) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		listingID, _ := args["listing_id"].(string)
		profile, _ := args["profile"].(string)

		listing, err := getListing(ctx, db, listingID)
		if err != nil {
			return nil, err
		}

		score, matched := keywordOverlap(listing.Title+" "+listing.Description, profile)
		return map[string]interface{}{
			"listing_id": listingID,
			"score":      score,
			"matched":    matched,
		}, nil
	}
}

func saveArtifactHandler(dir string) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		name, _ := args["name"].(string)
		content, _ := args["content"].(string)

		// Strip any path components; artifacts live flat in the artifacts dir.
		name = filepath.Base(name)
		if name == "" || name == "." || name == string(filepath.Separator) {
			return nil, errors.New("artifact name is invalid")
		}

		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write artifact: %w", err)
		}

		return map[string]interface{}{
			"path":  path,
			"bytes": len(content),
		}, nil
	}
}

func rememberNoteHandler(notes NoteTaker) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		note, _ := args["note"].(string)
		if strings.TrimSpace(note) == "" {
			return nil, errors.New("note is empty")
		}

		id, err := notes.Remember(ctx, tracing.GetThreadID(ctx), note)
		if err != nil {
			return nil, fmt.Errorf("failed to store note: %w", err)
		}
		return map[string]interface{}{"note_id": id}, nil
	}
}

func getListing(ctx context.Context, db *sql.DB, id string) (*Listing, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, title, company, location, remote, salary_min, salary_max, url, description, posted_at
		FROM listings
		WHERE id = ?
	`, id)

	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing with ID %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}
	return listing, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	if err := row.Scan(
		&l.ID, &l.Title, &l.Company, &l.Location, &l.Remote,
		&l.SalaryMin, &l.SalaryMax, &l.URL, &l.Description, &l.PostedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}

// keywordOverlap scores two texts by shared significant words over the
// smaller word set. Words of three letters or fewer are ignored.
func keywordOverlap(a, b string) (float64, []string) {
	setA := significantWords(a)
	setB := significantWords(b)

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	if smaller == 0 {
		return 0, []string{}
	}

	matched := []string{}
	for word := range setA {
		if setB[word] {
			matched = append(matched, word)
		}
	}
	sort.Strings(matched)

	return float64(len(matched)) / float64(smaller), matched
}

func significantWords(text string) map[string]bool {
	words := map[string]bool{}
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '+' || r == '#')
	}) {
		if len(word) > 3 || word == "go" || word == "c++" || word == "c#" {
			words[word] = true
		}
	}
	return words
}

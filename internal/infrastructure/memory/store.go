// Package memory is an in-process implementation of the storage contracts and
// of the event feed. It backs the test suites and dry runs of the indexer.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/storage"
)

// Store keeps every table in maps guarded by one mutex. Transactions are
// serialised and rolled back by restoring a snapshot.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	data tables

	// BeforeWrite, when set, runs before every write and may fail it. Tests use
	// it to inject store outages.
	BeforeWrite func(op string) error

	writes int
	now    func() time.Time
}

type tables struct {
	laborMarkets    map[string]*labormarket.LaborMarket
	projects        map[string]labormarket.Project
	tokens          map[string]labormarket.Token
	serviceRequests map[servicerequest.Key]*servicerequest.ServiceRequest
	submissions     map[submissionKey]*submission.Submission
	reviews         map[reviewKey]*submission.Review
	cursors         map[string]*cursor.Checkpoint
}

type submissionKey struct {
	laborMarketAddress string
	internalID         string
}

type reviewKey struct {
	laborMarketAddress string
	submissionID       string
	reviewerAddress    string
}

var (
	_ storage.Transactor           = (*Store)(nil)
	_ storage.LaborMarketWriter    = (*Store)(nil)
	_ storage.LaborMarketReader    = (*Store)(nil)
	_ storage.ServiceRequestWriter = (*Store)(nil)
	_ storage.ServiceRequestReader = (*Store)(nil)
	_ storage.SubmissionWriter     = (*Store)(nil)
	_ storage.SubmissionReader     = (*Store)(nil)
	_ storage.CursorStore          = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		data: tables{
			laborMarkets:    map[string]*labormarket.LaborMarket{},
			projects:        map[string]labormarket.Project{},
			tokens:          map[string]labormarket.Token{},
			serviceRequests: map[servicerequest.Key]*servicerequest.ServiceRequest{},
			submissions:     map[submissionKey]*submission.Submission{},
			reviews:         map[reviewKey]*submission.Review{},
			cursors:         map[string]*cursor.Checkpoint{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithinTransaction implements storage.Transactor.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		} else if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx)
}

func (s *Store) restore(snapshot tables) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

// PutProject seeds the project reference table.
func (s *Store) PutProject(p labormarket.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.projects[p.ID] = p
}

// PutToken seeds the token reference table.
func (s *Store) PutToken(t labormarket.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.tokens[t.ID] = t
}

// Writes counts committed or attempted write calls that passed BeforeWrite.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return storage.Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return storage.Stats{
		LaborMarkets:    int64(len(s.data.laborMarkets)),
		ServiceRequests: int64(len(s.data.serviceRequests)),
		Submissions:     int64(len(s.data.submissions)),
		Reviews:         int64(len(s.data.reviews)),
	}, nil
}

// beginWrite must be called with s.mu held.
func (s *Store) beginWrite(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.BeforeWrite != nil {
		if err := s.BeforeWrite(op); err != nil {
			return err
		}
	}
	s.writes++
	return nil
}

func newID() string {
	return uuid.NewString()
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (t tables) clone() tables {
	out := tables{
		laborMarkets:    make(map[string]*labormarket.LaborMarket, len(t.laborMarkets)),
		projects:        make(map[string]labormarket.Project, len(t.projects)),
		tokens:          make(map[string]labormarket.Token, len(t.tokens)),
		serviceRequests: make(map[servicerequest.Key]*servicerequest.ServiceRequest, len(t.serviceRequests)),
		submissions:     make(map[submissionKey]*submission.Submission, len(t.submissions)),
		reviews:         make(map[reviewKey]*submission.Review, len(t.reviews)),
		cursors:         make(map[string]*cursor.Checkpoint, len(t.cursors)),
	}
	for k, v := range t.laborMarkets {
		out.laborMarkets[k] = copyLaborMarket(v)
	}
	for k, v := range t.projects {
		out.projects[k] = v
	}
	for k, v := range t.tokens {
		out.tokens[k] = v
	}
	for k, v := range t.serviceRequests {
		sr := *v
		out.serviceRequests[k] = &sr
	}
	for k, v := range t.submissions {
		out.submissions[k] = copySubmission(v)
	}
	for k, v := range t.reviews {
		rv := *v
		out.reviews[k] = &rv
	}
	for k, v := range t.cursors {
		cp := *v
		out.cursors[k] = &cp
	}
	return out
}

func copyLaborMarket(lm *labormarket.LaborMarket) *labormarket.LaborMarket {
	out := *lm
	out.ProjectIDs = append([]string(nil), lm.ProjectIDs...)
	out.TokenIDs = append([]string(nil), lm.TokenIDs...)
	out.Projects = append([]labormarket.Project(nil), lm.Projects...)
	return &out
}

func copySubmission(sub *submission.Submission) *submission.Submission {
	out := *sub
	out.Reviews = append([]submission.Review(nil), sub.Reviews...)
	return &out
}

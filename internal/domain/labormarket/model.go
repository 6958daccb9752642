package labormarket

import (
	"time"

	"github.com/mdao/lm-indexer/internal/domain/validation"
)

type Type string

const (
	TypeBrainstorm Type = "brainstorm"
	TypeAnalyze    Type = "analyze"
)

func (t Type) Valid() bool {
	return t == TypeBrainstorm || t == TypeAnalyze
}

type LaunchAccess string

const (
	LaunchAnyone    LaunchAccess = "anyone"
	LaunchDelegates LaunchAccess = "delegates"
)

// Launch describes who may launch service requests in a market. Badger fields
// are only meaningful for delegate access.
type Launch struct {
	Access        LaunchAccess `json:"access"`
	BadgerAddress string       `json:"badgerAddress,omitempty"`
	BadgerTokenID string       `json:"badgerTokenId,omitempty"`
}

// LaborMarket is the projection of a configured market contract. The chain
// configuration is total: every write replaces every field.
type LaborMarket struct {
	ID                  string    `json:"id"`
	Address             string    `json:"address"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	Type                Type      `json:"type"`
	SubmitRepMin        int64     `json:"submitRepMin"`
	SubmitRepMax        int64     `json:"submitRepMax"`
	RewardCurveAddress  string    `json:"rewardCurveAddress"`
	ReviewBadgerAddress string    `json:"reviewBadgerAddress"`
	ReviewBadgerTokenID string    `json:"reviewBadgerTokenId"`
	Launch              Launch    `json:"launch"`
	SponsorAddress      string    `json:"sponsorAddress"`
	URI                 string    `json:"uri"`
	ProjectIDs          []string  `json:"projectIds"`
	TokenIDs            []string  `json:"tokenIds"`
	ConfiguredTxHash    string    `json:"configuredTxHash"`
	CreatedAt           time.Time `json:"createdAt"`
	ServiceRequestCount int       `json:"serviceRequestCount"`
	Projects            []Project `json:"projects,omitempty"`
}

type Project struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type Token struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type SortBy string

const (
	SortByTitle           SortBy = "title"
	SortByCreatedAt       SortBy = "createdAt"
	SortByServiceRequests SortBy = "serviceRequests"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

const MaxPageSize = 100

// Search filters the labor market listing.
type Search struct {
	Q       string   `json:"q,omitempty"`
	Type    Type     `json:"type,omitempty"`
	Token   []string `json:"token,omitempty"`
	Project []string `json:"project,omitempty"`
	SortBy  SortBy   `json:"sortBy"`
	Order   Order    `json:"order"`
	Page    int      `json:"page"`
	First   int      `json:"first"`
}

// Normalize applies defaults and rejects unknown enum values.
func (s *Search) Normalize() error {
	if s.SortBy == "" {
		s.SortBy = SortByTitle
	}
	if s.Order == "" {
		s.Order = OrderDesc
	}
	if s.Page < 1 {
		s.Page = 1
	}
	if s.First < 1 {
		s.First = 12
	}
	if s.First > MaxPageSize {
		s.First = MaxPageSize
	}
	switch s.SortBy {
	case SortByTitle, SortByCreatedAt, SortByServiceRequests:
	default:
		return validation.Invalid("sortBy", s.SortBy)
	}
	if s.Order != OrderAsc && s.Order != OrderDesc {
		return validation.Invalid("order", s.Order)
	}
	if s.Type != "" && !s.Type.Valid() {
		return validation.Invalid("type", s.Type)
	}
	return nil
}

func (s Search) Offset() int {
	return s.First * (s.Page - 1)
}

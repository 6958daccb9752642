package servicerequest

import (
	"time"

	"github.com/mdao/lm-indexer/internal/domain/validation"
)

// ServiceRequest is keyed by (LaborMarketAddress, InternalID). Its columns are
// split between the creation event and the fulfillment event; each event only
// ever writes its own group.
type ServiceRequest struct {
	ID                 string `json:"id"`
	LaborMarketAddress string `json:"laborMarketAddress"`
	InternalID         string `json:"internalId"`
	Creation
	Fulfillment
	CreatedAt time.Time `json:"createdAt"`
}

// Creation holds the fields owned by RequestCreated.
type Creation struct {
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	URI                   string     `json:"uri"`
	RequesterAddress      string     `json:"requesterAddress"`
	PTokenAddress         string     `json:"pTokenAddress"`
	PTokenQuantity        string     `json:"pTokenQuantity"`
	SignalExpiration      *time.Time `json:"signalExpiration,omitempty"`
	SubmissionExpiration  *time.Time `json:"submissionExpiration,omitempty"`
	EnforcementExpiration *time.Time `json:"enforcementExpiration,omitempty"`
	CreatedTxHash         string     `json:"createdTxHash"`
}

// Fulfillment holds the fields owned by RequestFulfilled.
type Fulfillment struct {
	Outcome               string `json:"outcome"`
	FulfillerAddress      string `json:"fulfillerAddress"`
	FulfilledSubmissionID string `json:"fulfilledSubmissionId"`
	FulfilledTxHash       string `json:"fulfilledTxHash"`
}

// Key is the composite on-chain identifier.
type Key struct {
	LaborMarketAddress string
	InternalID         string
}

func (k Key) String() string {
	return k.LaborMarketAddress + "/" + k.InternalID
}

func (k Key) Validate(r *validation.Result) {
	if k.LaborMarketAddress == "" {
		r.Add("laborMarketAddress", "Required")
	} else if !validation.IsHexAddress(k.LaborMarketAddress) {
		r.Add("laborMarketAddress", "Invalid address")
	}
	r.Require("internalId", k.InternalID)
}

// CreationWrite is the upsert instruction produced by RequestCreated.
type CreationWrite struct {
	Key
	Creation
}

func (w CreationWrite) Validate() validation.Result {
	var r validation.Result
	w.Key.Validate(&r)
	r.Address("pTokenAddress", w.PTokenAddress)
	r.Address("requesterAddress", w.RequesterAddress)
	if w.SignalExpiration != nil && w.SubmissionExpiration != nil && w.SubmissionExpiration.Before(*w.SignalExpiration) {
		r.Add("submissionExpiration", "Must not be before signalExpiration")
	}
	if w.SubmissionExpiration != nil && w.EnforcementExpiration != nil && w.EnforcementExpiration.Before(*w.SubmissionExpiration) {
		r.Add("enforcementExpiration", "Must not be before submissionExpiration")
	}
	return r
}

// FulfillmentWrite is the upsert instruction produced by RequestFulfilled.
type FulfillmentWrite struct {
	Key
	Fulfillment
}

func (w FulfillmentWrite) Validate() validation.Result {
	var r validation.Result
	w.Key.Validate(&r)
	r.Address("fulfiller", w.FulfillerAddress)
	return r
}

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

const MaxPageSize = 100

type Search struct {
	LaborMarket string `json:"laborMarket,omitempty"`
	Q           string `json:"q,omitempty"`
	SortBy      string `json:"sortBy"`
	Order       Order  `json:"order"`
	Page        int    `json:"page"`
	First       int    `json:"first"`
}

func (s *Search) Normalize() error {
	if s.SortBy == "" {
		s.SortBy = "title"
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
	if s.SortBy != "title" && s.SortBy != "createdAt" {
		return validation.Invalid("sortBy", s.SortBy)
	}
	if s.Order != OrderAsc && s.Order != OrderDesc {
		return validation.Invalid("order", s.Order)
	}
	s.LaborMarket = validation.NormalizeAddress(s.LaborMarket)
	return nil
}

func (s Search) Offset() int {
	return s.First * (s.Page - 1)
}

package submission

import (
	"time"

	"github.com/mdao/lm-indexer/internal/domain/validation"
)

// Submission is keyed by (InternalID, LaborMarketAddress) and points back at
// the service request it fulfills.
type Submission struct {
	ID                 string    `json:"id"`
	InternalID         string    `json:"internalId"`
	LaborMarketAddress string    `json:"laborMarketAddress"`
	ServiceRequestID   string    `json:"serviceRequestId"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	URI                string    `json:"uri"`
	CreatorAddress     string    `json:"creatorAddress"`
	TxHash             string    `json:"txHash"`
	CreatedAt          time.Time `json:"createdAt"`
	Reviews            []Review  `json:"reviews"`
}

func (s Submission) Validate() validation.Result {
	var r validation.Result
	r.Require("submissionId", s.InternalID)
	r.Require("internalId", s.ServiceRequestID)
	if s.LaborMarketAddress == "" {
		r.Add("laborMarketAddress", "Required")
	} else if !validation.IsHexAddress(s.LaborMarketAddress) {
		r.Add("laborMarketAddress", "Invalid address")
	}
	r.Address("fulfiller", s.CreatorAddress)
	return r
}

// Review belongs to a submission; one per reviewer.
type Review struct {
	ID                 string    `json:"id"`
	LaborMarketAddress string    `json:"laborMarketAddress"`
	SubmissionID       string    `json:"submissionId"`
	ReviewerAddress    string    `json:"reviewerAddress"`
	RequestID          string    `json:"requestId"`
	Score              int64     `json:"score"`
	TxHash             string    `json:"txHash"`
	CreatedAt          time.Time `json:"createdAt"`
}

func (rv Review) Validate() validation.Result {
	var r validation.Result
	if rv.LaborMarketAddress == "" {
		r.Add("laborMarketAddress", "Required")
	} else if !validation.IsHexAddress(rv.LaborMarketAddress) {
		r.Add("laborMarketAddress", "Invalid address")
	}
	r.Require("submissionId", rv.SubmissionID)
	if rv.ReviewerAddress == "" {
		r.Add("reviewer", "Required")
	} else if !validation.IsHexAddress(rv.ReviewerAddress) {
		r.Add("reviewer", "Invalid address")
	}
	if rv.Score < 0 {
		r.Add("score", "Must be greater than or equal to 0")
	}
	return r
}

type SortBy string

const (
	SortByTitle       SortBy = "title"
	SortByDescription SortBy = "description"
	SortByCreatedAt   SortBy = "createdAt"
	SortByReviews     SortBy = "reviews"
	SortByCreatorID   SortBy = "creatorId"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

const MaxPageSize = 100

type Search struct {
	Q                  string `json:"q,omitempty"`
	LaborMarketAddress string `json:"laborMarketAddress,omitempty"`
	ServiceRequestID   string `json:"serviceRequestId,omitempty"`
	SortBy             SortBy `json:"sortBy"`
	Order              Order  `json:"order"`
	Page               int    `json:"page"`
	First              int    `json:"first"`
}

func (s *Search) Normalize() error {
	if s.SortBy == "" {
		s.SortBy = SortByCreatedAt
	}
	if s.Order == "" {
		s.Order = OrderAsc
	}
	if s.Page < 1 {
		s.Page = 1
	}
	if s.First < 1 {
		s.First = 10
	}
	if s.First > MaxPageSize {
		s.First = MaxPageSize
	}
	switch s.SortBy {
	case SortByTitle, SortByDescription, SortByCreatedAt, SortByReviews, SortByCreatorID:
	default:
		return validation.Invalid("sortBy", s.SortBy)
	}
	if s.Order != OrderAsc && s.Order != OrderDesc {
		return validation.Invalid("order", s.Order)
	}
	s.LaborMarketAddress = validation.NormalizeAddress(s.LaborMarketAddress)
	return nil
}

func (s Search) Offset() int {
	return s.First * (s.Page - 1)
}

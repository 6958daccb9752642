package labormarket

import (
	"github.com/mdao/lm-indexer/internal/domain/validation"
)

// Validate checks a projected market. Metadata may be sparse because the
// chain is authoritative, but keys and cross-field rules are enforced.
func Validate(lm LaborMarket) validation.Result {
	var r validation.Result

	if lm.Address == "" {
		r.Add("address", "Required")
	} else if !validation.IsHexAddress(lm.Address) {
		r.Add("address", "Invalid address")
	}
	if lm.Type != "" && !lm.Type.Valid() {
		r.Add("type", "Invalid enum value %q", lm.Type)
	}
	if lm.SubmitRepMin < 0 {
		r.Add("submitRepMin", "Must be greater than or equal to 0")
	}
	if lm.SubmitRepMax != 0 && lm.SubmitRepMax < lm.SubmitRepMin {
		r.Add("submitRepMax", "Must be greater than or equal to submitRepMin")
	}
	r.Address("sponsorAddress", lm.SponsorAddress)
	r.Address("rewardCurveAddress", lm.RewardCurveAddress)
	r.Address("reviewBadgerAddress", lm.ReviewBadgerAddress)
	validateLaunch(&r, lm.Launch, false)

	return r
}

// ValidateForm applies the full rules for a market submitted by a person,
// as used by the dev auto-index endpoint.
func ValidateForm(lm LaborMarket) validation.Result {
	var r validation.Result

	if !validation.IsHexAddress(lm.Address) {
		r.Add("address", "Invalid address")
	}
	r.Require("title", lm.Title)
	r.Require("description", lm.Description)
	if !lm.Type.Valid() {
		r.Add("type", "Invalid enum value %q", lm.Type)
	}
	if lm.SubmitRepMin < 0 {
		r.Add("submitRepMin", "Must be greater than or equal to 0")
	}
	if lm.SubmitRepMax < lm.SubmitRepMin {
		r.Add("submitRepMax", "Must be greater than or equal to submitRepMin")
	}
	if !validation.IsEVMAddress(lm.RewardCurveAddress) {
		r.Add("rewardCurveAddress", "Invalid address")
	}
	if !validation.IsEVMAddress(lm.ReviewBadgerAddress) {
		r.Add("reviewBadgerAddress", "Invalid address")
	}
	r.Require("reviewBadgerTokenId", lm.ReviewBadgerTokenID)
	if lm.SponsorAddress != "" && !validation.IsEVMAddress(lm.SponsorAddress) {
		r.Add("sponsorAddress", "Invalid address")
	}
	validateLaunch(&r, lm.Launch, true)

	return r
}

// Delegate access requires both badger fields; an absent access mode is only
// tolerated on projected data.
func validateLaunch(r *validation.Result, launch Launch, strict bool) {
	switch launch.Access {
	case LaunchAnyone:
	case LaunchDelegates:
		if launch.BadgerAddress == "" {
			r.Add("launch.badgerAddress", "Required")
		} else if strict && !validation.IsEVMAddress(launch.BadgerAddress) {
			r.Add("launch.badgerAddress", "Invalid address")
		} else if !validation.IsHexAddress(launch.BadgerAddress) {
			r.Add("launch.badgerAddress", "Invalid address")
		}
		if launch.BadgerTokenID == "" {
			r.Add("launch.badgerTokenId", "Required")
		}
	case "":
		if strict {
			r.Add("launch.access", "Required")
		}
	default:
		r.Add("launch.access", "Invalid enum value %q", launch.Access)
	}
}

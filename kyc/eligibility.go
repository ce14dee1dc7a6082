package kyc

// =============================================================================
// UPGRADE ELIGIBILITY
// =============================================================================

// Status of the owner's KYC review.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Profile is what the KYC workflow knows about an owner. Only presence of
// documents matters here; validating them is out of scope.
type Profile struct {
	Level             Level  `json:"level"`
	Status            Status `json:"status"`
	HasBVN            bool   `json:"has_bvn"`
	HasNIN            bool   `json:"has_nin"`
	HasGovernmentID   bool   `json:"has_government_id"`
	HasProofOfAddress bool   `json:"has_proof_of_address"`
}

type Requirement string

const (
	RequireCurrentLevel   Requirement = "current_level"
	RequireApproved       Requirement = "kyc_approved"
	RequireBVNOrNIN       Requirement = "bvn_or_nin"
	RequireBVNAndNIN      Requirement = "bvn_and_nin"
	RequireGovernmentID   Requirement = "government_id"
	RequireProofOfAddress Requirement = "proof_of_address"
)

// Eligibility is the verdict of CheckUpgrade. Missing is empty when Eligible.
type Eligibility struct {
	Current  Level         `json:"current"`
	Target   Level         `json:"target"`
	Eligible bool          `json:"eligible"`
	Missing  []Requirement `json:"missing"`
}

// CheckUpgrade reports whether p may move to target. Upgrades go one level at
// a time: tier_1 -> tier_2 -> tier_3.
//
//	tier_2: on tier_1, approved, BVN or NIN
//	tier_3: on tier_2, approved, BVN and NIN, government ID, proof of address
func CheckUpgrade(p Profile, target Level) (Eligibility, error) {
	if _, err := ParseLevel(string(target)); err != nil {
		return Eligibility{}, err
	}
	e := Eligibility{Current: p.Level, Target: target, Missing: []Requirement{}}

	if p.Level.Next() != target {
		e.Missing = append(e.Missing, RequireCurrentLevel)
	}
	if p.Status != StatusApproved {
		e.Missing = append(e.Missing, RequireApproved)
	}
	switch target {
	case Tier2:
		if !p.HasBVN && !p.HasNIN {
			e.Missing = append(e.Missing, RequireBVNOrNIN)
		}
	case Tier3:
		if !p.HasBVN || !p.HasNIN {
			e.Missing = append(e.Missing, RequireBVNAndNIN)
		}
		if !p.HasGovernmentID {
			e.Missing = append(e.Missing, RequireGovernmentID)
		}
		if !p.HasProofOfAddress {
			e.Missing = append(e.Missing, RequireProofOfAddress)
		}
	}
	e.Eligible = len(e.Missing) == 0
	return e, nil
}

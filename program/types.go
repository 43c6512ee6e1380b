package program

import "github.com/warp/incentive-engine/engine"

// =============================================================================
// FACILITY TYPES
// =============================================================================

const (
	HealthPost    engine.FacilityType = "health_post"
	PHC           engine.FacilityType = "phc"
	Hospital      engine.FacilityType = "hospital"
	CommunityUnit engine.FacilityType = "community_unit" // team-based
)

// =============================================================================
// INDICATOR CODES - Published program numbering
// =============================================================================

const (
	IndANCVisits          engine.IndicatorCode = "1.1"
	IndFacilityDeliveries engine.IndicatorCode = "1.2"
	IndFPAcceptors        engine.IndicatorCode = "2.1"
	IndImmunization       engine.IndicatorCode = "2.2"
	IndQualityChecklist   engine.IndicatorCode = "3.1"
	IndClientSatisfaction engine.IndicatorCode = "3.2"
	IndHMISReport         engine.IndicatorCode = "4.1"
	IndTBReferrals        engine.IndicatorCode = "4.2"
)

// =============================================================================
// FIELD KEYS
// =============================================================================

const (
	FieldANCVisits          engine.FieldKey = "anc_visits"
	FieldExpectedPregnancy  engine.FieldKey = "expected_pregnancies"
	FieldHasDeliveries      engine.FieldKey = "has_delivery_services"
	FieldDeliveries         engine.FieldKey = "facility_deliveries"
	FieldExpectedDeliveries engine.FieldKey = "expected_deliveries"
	FieldFPAcceptors        engine.FieldKey = "fp_new_acceptors"
	FieldWomenReproductive  engine.FieldKey = "women_reproductive_age"
	FieldFullyImmunized     engine.FieldKey = "fully_immunized_pct"
	FieldQualityScore       engine.FieldKey = "quality_checklist_score"
	FieldSatisfactionScore  engine.FieldKey = "client_satisfaction_score"
	FieldHMISSubmitted      engine.FieldKey = "hmis_report_submitted"
	FieldTBScreening        engine.FieldKey = "tb_screening_done"
	FieldTBReferrals        engine.FieldKey = "tb_referrals"
)

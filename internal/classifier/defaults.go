package classifier

// Business-line category names.
const (
	Highway       = "Highway"
	HMA           = "HMA"
	Aggregates    = "Aggregates"
	Concrete      = "Concrete"
	LiquidAsphalt = "Liquid Asphalt"
	Trucking      = "Trucking"
)

// Signal names double as item kinds.
const (
	SignalBid     = "bid"
	SignalFunding = "funding"
)

func words(terms ...string) []Keyword {
	out := make([]Keyword, 0, len(terms))
	for _, t := range terms {
		out = append(out, Keyword{Term: t})
	}
	return out
}

func weighted(weight float64, terms ...string) []Keyword {
	out := words(terms...)
	for i := range out {
		out[i].Weight = weight
	}
	return out
}

// DefaultRuleSet is the built-in northeast construction rule set. Highway and
// HMA terms weigh 3, the supporting lines 1.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Name:    "necmis",
		Version: "3.1",
		Categories: []Group{
			{Name: Highway, Weight: 3, Keywords: words(
				"highway", "road construction", "paving", "resurfacing", "milling",
				"interstate", "turnpike", "dot", "transportation", "vtrans", "nhdot",
				"mainedot", "nysdot", "penndot", "massdot", "ridot", "ctdot",
				"bridge", "overpass", "culvert", "guardrail", "pavement",
			)},
			{Name: HMA, Weight: 3, Keywords: words(
				"asphalt", "hot mix", "hma", "bituminous", "blacktop", "tack coat",
				"wearing course", "overlay", "asphalt plant", "paver", "roller",
				"paving", "resurfacing",
			)},
			{Name: Aggregates, Weight: 1, Keywords: words(
				"aggregate", "quarry", "gravel", "sand", "stone", "crushed",
				"pit", "mining", "excavation", "crusher", "screening",
				"base course", "subbase", "fill material",
			)},
			{Name: Concrete, Weight: 1, Keywords: words(
				"concrete", "ready mix", "ready-mix", "cement", "batch plant",
				"redi-mix", "precast", "reinforced concrete", "structural concrete",
			)},
			{Name: LiquidAsphalt, Weight: 1, Keywords: words(
				"bitumen", "liquid asphalt", "asphalt cement", "emulsion",
				"ac grade", "pg grade", "binder", "cutback", "asphalt terminal",
			)},
			{Name: Trucking, Weight: 1, Keywords: words(
				"trucking", "hauling", "dump truck", "fleet", "cdl",
				"freight", "delivery", "transport", "logistics",
			)},
		},
		Signals: []Group{
			{Name: SignalBid, Weight: 3, Keywords: words(
				"bid", "rfp", "rfq", "letting", "proposal", "solicitation",
				"contract", "award", "procurement", "advertised",
			)},
			{Name: SignalFunding, Keywords: append(
				weighted(3, "grant", "funding", "iija", "federal", "appropriation"),
				weighted(1, "infrastructure bill", "million", "billion", "budget")...,
			)},
		},
		ProjectCategories: []string{Highway, HMA},
		States: []StatePattern{
			{State: "VT", Patterns: []string{"vermont", "vtrans", "burlington", "montpelier", "rutland", "bennington", "brattleboro", "barre"}},
			{State: "NH", Patterns: []string{"new hampshire", " nh ", "nhdot", "manchester", "nashua", "concord", "portsmouth", "keene", "laconia"}},
			{State: "ME", Patterns: []string{"maine", "mainedot", "portland me", "bangor", "lewiston", "augusta", "presque isle", "biddeford"}},
			{State: "NY", Patterns: []string{"new york", "nysdot", "albany", "syracuse", "rochester", "buffalo", "thruway", "utica", "binghamton"}},
			{State: "PA", Patterns: []string{"pennsylvania", "penndot", "harrisburg", "pittsburgh", "philadelphia", "turnpike", "scranton", "allentown"}},
			{State: "MA", Patterns: []string{"massachusetts", "massdot", "boston", "worcester", "springfield", "mass pike", "cambridge", "lowell"}},
			{State: "RI", Patterns: []string{"rhode island", "ridot", "providence", "warwick", "cranston", "newport", "pawtucket"}},
			{State: "CT", Patterns: []string{"connecticut", "ctdot", "hartford", "new haven", "bridgeport", "stamford", "waterbury", "norwalk"}},
		},
	}
}

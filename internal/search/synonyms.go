package search

import "sort"

// synonymEntry maps a clinical phrase to the canonical terms it
// expands to. Matching is longest-phrase-first with consumption: a
// matched phrase is blanked out of the working query so the words it
// contains cannot match again as shorter phrases.
type synonymEntry struct {
	phrase string
	terms  []string
}

var synonymTable = []synonymEntry{
	{"birth control pills", []string{"coc", "combined oral contraceptive", "contraception", "estrogen"}},
	{"birth control pill", []string{"coc", "combined oral contraceptive", "contraception", "estrogen"}},
	{"birth control", []string{"coc", "contraception", "contraceptive", "estrogen"}},
	{"oral contraceptive", []string{"coc", "contraception", "estrogen"}},
	{"hormone replacement therapy", []string{"hrt", "estrogen", "menopause", "hormone"}},
	{"hormone replacement", []string{"hrt", "estrogen", "menopause", "hormone"}},
	{"pulmonary embolism", []string{"vte", "embolism", "thromboembolism"}},
	{"deep vein thrombosis", []string{"dvt", "vte", "thrombosis"}},
	{"blood thinners", []string{"anticoagulant", "anticoagulation"}},
	{"blood thinner", []string{"anticoagulant", "anticoagulation"}},
	{"blood clots", []string{"vte", "thrombosis", "thromboembolism"}},
	{"blood clot", []string{"vte", "thrombosis", "thromboembolism"}},
	{"pregnancy loss", []string{"miscarriage", "fetal loss", "pregnancy"}},
	{"family history", []string{"relative", "first-degree relative", "family"}},
	{"factor five", []string{"factor v leiden"}},
	{"leiden", []string{"factor v leiden"}},
	{"miscarriage", []string{"pregnancy loss", "fetal loss", "pregnancy"}},
	{"menopause", []string{"hrt", "hormone", "estrogen"}},
	{"pregnant", []string{"pregnancy"}},
	{"postpartum", []string{"pregnancy", "postpartum"}},
	{"surgery", []string{"surgical", "perioperative"}},
	{"operation", []string{"surgical", "perioperative"}},
	{"warfarin", []string{"anticoagulant", "anticoagulation"}},
	{"heparin", []string{"anticoagulant", "anticoagulation"}},
	{"doac", []string{"anticoagulant", "anticoagulation"}},
	{"clot", []string{"vte", "thrombosis"}},
	{"pill", []string{"coc", "contraception"}},
	{"dvt", []string{"vte", "thrombosis"}},
	{"hrt", []string{"hormone", "estrogen", "menopause"}},
}

func init() {
	// Longer phrases must be tried before the words they contain.
	sort.SliceStable(synonymTable, func(i, j int) bool {
		if len(synonymTable[i].phrase) != len(synonymTable[j].phrase) {
			return len(synonymTable[i].phrase) > len(synonymTable[j].phrase)
		}
		return synonymTable[i].phrase < synonymTable[j].phrase
	})
}

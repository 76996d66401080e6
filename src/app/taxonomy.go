package app

import "strings"

// ClassResult is one entry of the probability distribution returned by the
// classification endpoint. Score is a 0-100 percentage; the distribution is
// not guaranteed to sum to 100 and is never renormalized here.
type ClassResult struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ClassInfo is the static reference entry for one lesion class.
type ClassInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	RiskLevel   string `json:"riskLevel"`
	CommonIn    string `json:"commonIn"`
	KeyFeatures string `json:"keyFeatures"`
}

type RiskSeverity string

const (
	SeverityCritical RiskSeverity = "critical"
	SeverityHigh     RiskSeverity = "high"
	SeverityModerate RiskSeverity = "moderate"
	SeverityLow      RiskSeverity = "low"
)

// ClassIDs is the fixed HAM10000 taxonomy, in canonical order. The set must
// match the classification backend exactly.
var ClassIDs = []string{"akiec", "bcc", "bkl", "df", "mel", "nv", "vasc"}

// KnownClass reports whether id belongs to the fixed taxonomy.
func KnownClass(id string) bool {
	_, ok := ClassInfoMap[id]
	return ok
}

// RiskSeverityOf maps a free-form risk-level string onto a severity bucket.
func RiskSeverityOf(riskLevel string) RiskSeverity {
	switch {
	case strings.Contains(riskLevel, "Very High"):
		return SeverityCritical
	case strings.Contains(riskLevel, "High"):
		return SeverityHigh
	case strings.Contains(riskLevel, "Moderate"):
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// RiskLabel is the user-facing badge text for a severity bucket.
func RiskLabel(severity RiskSeverity) string {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return "High Risk"
	case SeverityModerate:
		return "Moderate Risk"
	default:
		return "Low Risk"
	}
}

// ConfidenceColor buckets a confidence percentage for display.
func ConfidenceColor(score float64) string {
	switch {
	case score >= 80:
		return "emerald"
	case score >= 50:
		return "amber"
	default:
		return "red"
	}
}

// ClassInfoMap is the fixed 7-entry reference table keyed by class id.
var ClassInfoMap = map[string]ClassInfo{
	"akiec": {
		ID:   "akiec",
		Name: "Actinic keratoses and intraepithelial carcinoma",
		Description: "Actinic keratoses (AK) are rough, scaly patches caused by prolonged UV exposure. " +
			"They are considered precancerous and can progress to squamous cell carcinoma if left untreated. " +
			"Intraepithelial carcinoma (Bowen's disease) is an early form of squamous cell carcinoma confined to the epidermis.",
		RiskLevel: "Moderate — Precancerous",
		CommonIn:  "Fair-skinned individuals with chronic sun exposure, typically over age 40",
		KeyFeatures: "Rough, dry or scaly patches; pink to reddish-brown color; " +
			"commonly found on sun-exposed areas (face, ears, hands)",
	},
	"bcc": {
		ID:   "bcc",
		Name: "Basal cell carcinoma",
		Description: "Basal cell carcinoma (BCC) is the most common type of skin cancer. " +
			"It arises from the basal cells in the lowest layer of the epidermis. " +
			"BCC rarely metastasizes but can cause significant local tissue destruction if untreated. " +
			"It is strongly associated with UV radiation exposure.",
		RiskLevel: "High — Malignant (rarely metastatic)",
		CommonIn:  "Fair-skinned adults, especially those with a history of sunburns or chronic sun exposure",
		KeyFeatures: "Pearly or waxy bumps; flat, flesh-colored or brown scar-like lesions; " +
			"may have visible blood vessels; rolled borders",
	},
	"bkl": {
		ID:   "bkl",
		Name: "Benign keratosis-like lesions",
		Description: "This category includes seborrheic keratoses, solar lentigines, and lichen planus-like keratoses. " +
			"These are non-cancerous growths that appear as waxy, stuck-on lesions. " +
			"While cosmetically bothersome, they are generally harmless and do not require treatment unless symptomatic.",
		RiskLevel: "Low — Benign",
		CommonIn:  "Adults over age 50; prevalence increases with age",
		KeyFeatures: "Waxy, stuck-on appearance; brown to black color; well-defined borders; " +
			"variable texture from smooth to rough",
	},
	"df": {
		ID:   "df",
		Name: "Dermatofibroma",
		Description: "Dermatofibromas are common, benign skin nodules of uncertain origin, " +
			"possibly triggered by minor injuries like insect bites. " +
			"They are firm, fibrous growths found most commonly on the legs. " +
			"They are harmless and usually do not require treatment.",
		RiskLevel: "Low — Benign",
		CommonIn:  "Young to middle-aged adults, more frequent in women",
		KeyFeatures: "Firm, raised nodule; dimples inward when pinched (dimple sign); " +
			"brown to reddish-brown; typically 0.5–1 cm in diameter",
	},
	"mel": {
		ID:   "mel",
		Name: "Melanoma",
		Description: "Melanoma is the most dangerous form of skin cancer, arising from melanocytes (pigment-producing cells). " +
			"It can develop from an existing mole or appear as a new dark spot. " +
			"Early detection is critical, as melanoma can metastasize to other organs. " +
			"The ABCDE rule (Asymmetry, Border, Color, Diameter, Evolving) is used for clinical assessment.",
		RiskLevel: "Very High — Malignant (can metastasize)",
		CommonIn:  "All skin types; higher risk with UV exposure, family history, fair skin, and presence of many moles",
		KeyFeatures: "Asymmetrical shape; irregular/blurred borders; multiple colors (brown, black, red, white, blue); " +
			"diameter >6mm; evolving size or shape",
	},
	"nv": {
		ID:   "nv",
		Name: "Melanocytic nevi",
		Description: "Melanocytic nevi (moles) are benign proliferations of melanocytes. " +
			"They are extremely common and most people have 10–40 moles. " +
			"While the vast majority are harmless, atypical or dysplastic nevi may have a slightly increased risk " +
			"of developing into melanoma and should be monitored.",
		RiskLevel: "Low — Benign (monitor atypical nevi)",
		CommonIn:  "All ages and skin types; typically appear in childhood and adolescence",
		KeyFeatures: "Uniform color (tan, brown, or dark brown); round/oval shape; well-defined borders; " +
			"usually <6mm; flat or raised",
	},
	"vasc": {
		ID:   "vasc",
		Name: "Vascular lesions",
		Description: "Vascular lesions include cherry angiomas, angiokeratomas, pyogenic granulomas, and hemorrhage. " +
			"They arise from blood vessels in the skin. " +
			"Most are benign but some, like pyogenic granulomas, may bleed easily and require treatment. " +
			"They present as red to purple spots or nodules.",
		RiskLevel: "Low — Usually benign",
		CommonIn:  "All ages; cherry angiomas increase with age",
		KeyFeatures: "Red, purple, or blue coloration; may be flat or raised; sharply demarcated; " +
			"may blanch with pressure",
	},
}

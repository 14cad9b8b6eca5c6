package extract

// PromptVersion is part of every cache key. Bump it whenever a prompt below
// changes so stale cached extractions are not reused.
const PromptVersion = "v3"

const metaPrompt = `
# Task Context
You are tasked with extracting **document-level metadata** from an academic
paper. Extract only what the text explicitly states.

# Detailed Task Description & Rules
- **title:** the full paper title. Leave empty if the text does not contain it.
- **abstract:** the abstract text, verbatim. Leave empty if absent.
- **year:** the publication year as a four-digit number, or 0 if not stated.

Output must be valid JSON only (no commentary, no extra text).
`

const categoryPrompt = `
# Task Context
You are tasked with extracting every **%s** mentioned in the provided academic
paper. The process must capture **all instances explicitly present in the
text**, without omission and without inventing entries the text does not
support.

# Background Data
- **Category:** %s
- **Category guidance:** %s

# Detailed Task Description & Rules
For each instance, extract:
- **name:** the canonical name as the paper states it (e.g. "Resource-Based View", not "the RBV perspective discussed above").
- **role:** how the paper uses it, one of: primary, supporting, extending, challenging. Use "primary" only when the paper builds its core argument on it.
- **section:** the paper section where the clearest mention appears (e.g. "Introduction", "Literature Review", "Methods", "Results", "Discussion", "Conclusion").
- **snippet:** a short verbatim passage (one or two sentences) evidencing the mention.

If the paper contains no instances of this category, return an empty "records"
array. Never pad the output with guesses.

Output must be valid JSON only (no commentary, no extra text).
`

// categoryGuidance tells the model what counts as an instance of each
// category. The phrasing matters: vague guidance produces padded output.
var categoryGuidance = map[string]string{
	"theory":       "A named theoretical lens or framework the paper draws on, tests, extends, or argues against (e.g. Resource-Based View, Institutional Theory, Agency Theory).",
	"method":       "A named research method, analysis technique, or study design (e.g. Structural Equation Modeling, case study, panel regression, grounded theory).",
	"phenomenon":   "A real-world phenomenon or outcome the paper studies (e.g. firm performance heterogeneity, technology adoption, employee turnover).",
	"variable":     "A named construct or measured variable, independent or dependent (e.g. absorptive capacity, ROA, job satisfaction).",
	"finding":      "A specific empirical or conceptual result the paper reports, stated as a claim (e.g. 'rare resources are positively associated with sustained advantage').",
	"contribution": "A contribution the paper explicitly claims to make to theory, method, or practice.",
	"author":       "An author of this paper, as listed in the byline or header.",
	"citation":     "A cited work the paper engages with substantively (not every reference list entry), named by author and year (e.g. 'Barney 1991').",
}

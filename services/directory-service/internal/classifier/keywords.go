package classifier

import (
	"context"
	"fmt"
	"strings"
)

const defaultSpecialty = "General Medicine"

// Rule ties a specialty to the stems that suggest it.
type Rule struct {
	Specialty string
	Terms     []string
}

var DefaultRules = []Rule{
	{Specialty: "Cardiology", Terms: []string{"chest pain", "palpitation", "heart", "blood pressure", "hypertension"}},
	{Specialty: "Dermatology", Terms: []string{"rash", "itch", "skin", "acne", "eczema"}},
	{Specialty: "Neurology", Terms: []string{"headache", "migraine", "seizure", "numb", "dizz", "tremor"}},
	{Specialty: "Orthopedics", Terms: []string{"bone", "fracture", "joint", "back pain", "knee", "sprain"}},
	{Specialty: "Gastroenterology", Terms: []string{"stomach", "abdominal", "diarrh", "vomit", "nausea", "constipat", "acidity"}},
	{Specialty: "Pulmonology", Terms: []string{"cough", "breath", "wheez", "asthma", "lung"}},
	{Specialty: "ENT", Terms: []string{"ear", "throat", "sinus", "nose", "tonsil"}},
	{Specialty: "Ophthalmology", Terms: []string{"eye", "vision", "blurr"}},
	{Specialty: "Gynecology", Terms: []string{"pregnan", "menstrua", "period", "pelvic"}},
	{Specialty: "Psychiatry", Terms: []string{"anxiety", "depress", "insomnia", "panic"}},
	{Specialty: "Pediatrics", Terms: []string{"child", "infant", "baby", "toddler"}},
}

// Keywords scores specialties by counting matched stems. It never fails.
type Keywords struct {
	rules []Rule
}

func NewKeywords(rules []Rule) *Keywords {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Keywords{rules: rules}
}

func (k *Keywords) Classify(_ context.Context, text string) (Prediction, error) {
	text = strings.ToLower(text)
	hits := make(map[string]int)
	total := 0
	best, bestHits := defaultSpecialty, 0
	for _, rule := range k.rules {
		n := 0
		for _, term := range rule.Terms {
			if strings.Contains(text, term) {
				n++
			}
		}
		if n == 0 {
			continue
		}
		hits[rule.Specialty] += n
		total += n
		if n > bestHits {
			best, bestHits = rule.Specialty, n
		}
	}

	if total == 0 {
		return Prediction{
			Specialty:     defaultSpecialty,
			Reasoning:     "No specialty specific terms were recognised, so a general physician is the best first contact.",
			Probabilities: map[string]float64{defaultSpecialty: 1},
		}, nil
	}
	probs := make(map[string]float64, len(hits))
	for s, n := range hits {
		probs[s] = round3(float64(n) / float64(total))
	}
	return Prediction{
		Specialty:     best,
		Reasoning:     fmt.Sprintf("The description mentions symptoms commonly treated in '%s'.", best),
		Probabilities: probs,
	}, nil
}

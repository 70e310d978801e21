package match

import (
	"math"
	"sync"
)

// Classifier is a naive-Bayes text classifier over normalized token bags.
// The matching engine trains it with (input, derived intent) pairs from the
// approved corpus and uses it both as a scoring algorithm and as an intent
// fallback when no pattern matches.
type Classifier struct {
	mu          sync.RWMutex
	classDocs   map[string]int            // class -> document count
	classTokens map[string]map[string]int // class -> token -> count
	classTotal  map[string]int            // class -> total token count
	vocab       map[string]bool
	totalDocs   int
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		classDocs:   make(map[string]int),
		classTokens: make(map[string]map[string]int),
		classTotal:  make(map[string]int),
		vocab:       make(map[string]bool),
	}
}

// Train adds one normalized document under the given class.
func (c *Classifier) Train(normalized, class string) {
	tokens := Tokenize(normalized)
	if len(tokens) == 0 || class == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classDocs[class]++
	c.totalDocs++
	bag := c.classTokens[class]
	if bag == nil {
		bag = make(map[string]int)
		c.classTokens[class] = bag
	}
	for _, t := range tokens {
		bag[t]++
		c.classTotal[class]++
		c.vocab[t] = true
	}
}

// Reset clears all trained state.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classDocs = make(map[string]int)
	c.classTokens = make(map[string]map[string]int)
	c.classTotal = make(map[string]int)
	c.vocab = make(map[string]bool)
	c.totalDocs = 0
}

// Classify returns the most probable class for the normalized text and a
// normalized probability in [0,1]. Returns ("", 0) when untrained or the
// text has no tokens.
func (c *Classifier) Classify(normalized string) (string, float64) {
	tokens := Tokenize(normalized)
	if len(tokens) == 0 {
		return "", 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.totalDocs == 0 {
		return "", 0
	}

	vocabSize := float64(len(c.vocab))
	logScores := make(map[string]float64, len(c.classDocs))
	for class, docs := range c.classDocs {
		score := math.Log(float64(docs) / float64(c.totalDocs))
		bag := c.classTokens[class]
		total := float64(c.classTotal[class])
		for _, t := range tokens {
			// Laplace smoothing keeps unseen tokens from zeroing the class.
			count := float64(bag[t])
			score += math.Log((count + 1) / (total + vocabSize))
		}
		logScores[class] = score
	}

	// Softmax over log scores to get a [0,1] confidence for the winner.
	var maxLog float64
	first := true
	best := ""
	for class, s := range logScores {
		if first || s > maxLog {
			maxLog = s
			best = class
			first = false
		}
	}
	var denom float64
	for _, s := range logScores {
		denom += math.Exp(s - maxLog)
	}
	if denom == 0 {
		return "", 0
	}
	return best, 1 / denom
}

// Classes returns the number of distinct trained classes.
func (c *Classifier) Classes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.classDocs)
}

// Package routing picks the specialist whose instructions frame a chat turn.
// Only a fixed strategy is provided; a classifier can be swapped in without
// touching session handling.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Request is what a classifier sees of an incoming chat turn.
type Request struct {
	UserID string
	Prompt string
}

// Specialist is a named assistant behavior.
type Specialist struct {
	Name         string
	Description  string
	Instructions string
}

// Classifier chooses the specialist for a request.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Specialist, error)
}

var (
	General = Specialist{
		Name:         "general",
		Description:  "General assistant",
		Instructions: "You are a helpful assistant. Remember and use information from previous messages.",
	}
	CompanyFinder = Specialist{
		Name:        "company",
		Description: "Specialist agent for company search",
		Instructions: "You are responsible for searching companies from a database or verified sources. " +
			"Never generate generic or unverified responses. " +
			"If required fields like company description or country are missing, ask the user for clarification before proceeding.",
	}
	InvestorFinder = Specialist{
		Name:        "investor",
		Description: "Specialist agent for investor search",
		Instructions: "You provide assistance with investor search. Ask follow-up questions if needed. " +
			"Once you have completed your search, explain search method and results clearly.",
	}
	WebResearch = Specialist{
		Name:        "research",
		Description: "Specialist agent for web research",
		Instructions: "You provide help with web research. " +
			"Summarize the information you find in a clear and concise manner.",
	}
)

var catalog = map[string]Specialist{
	General.Name:        General,
	CompanyFinder.Name:  CompanyFinder,
	InvestorFinder.Name: InvestorFinder,
	WebResearch.Name:    WebResearch,
}

// Lookup finds a specialist by name, case-insensitively.
func Lookup(name string) (Specialist, bool) {
	s, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Names lists the known specialist names in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fixed routes every request to the same specialist.
type Fixed struct {
	Specialist Specialist
}

// NewFixed returns a Fixed classifier for the named specialist.
func NewFixed(name string) (Fixed, error) {
	s, ok := Lookup(name)
	if !ok {
		return Fixed{}, fmt.Errorf("unknown specialist %q, want one of %s", name, strings.Join(Names(), ", "))
	}
	return Fixed{Specialist: s}, nil
}

// Classify implements Classifier.
func (f Fixed) Classify(context.Context, Request) (Specialist, error) {
	return f.Specialist, nil
}

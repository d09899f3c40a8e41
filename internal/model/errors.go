package model

import "github.com/rotisserie/eris"

var (
	errEmptyAnalysis  = eris.New("model: empty analysis")
	errMissingSummary = eris.New("model: analysis missing summary")
	errBadCategory    = eris.New("model: analysis has unknown category")
	errBadRiskScore   = eris.New("model: risk score out of range")
)

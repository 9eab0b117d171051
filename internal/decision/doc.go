// Package decision turns raw classifier scores into the urgency verdict.
package decision

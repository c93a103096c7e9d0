// Package expert polls a fixed panel of independent analyst profiles for a
// trading opinion and turns their free-text answers into votes. Every call is
// bounded and every parse miss degrades to a documented default, so a panel
// always yields exactly one vote per profile.
package expert

// Package watch runs the detect-and-notify pipeline: it polls every tracked
// work, decides whether a newer installment appeared, persists it and hands the
// update to the notifier.
package watch

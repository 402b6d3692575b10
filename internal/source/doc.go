// Package source turns a fetched work page into a canonical Record.
//
// Each site family registers one Extractor and the domains it serves.
// Lookup is keyed by the normalized (IDNA ASCII, lower-case, no "www.") host,
// so a native-script domain and its xn-- alias select the same family.
package source

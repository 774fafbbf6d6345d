// Package scanid parses, validates, renders and translates scan session
// identifiers across the three naming conventions used for study data.
//
// Conventions:
//
//   - Internal: STUDY_SITE_SUBJECT_TIMEPOINT_SE## (phantoms STUDY_SITE_PHA_KIND_NN)
//   - SiteIssued: STUDY_SITE_SUBJECT_TIMEPOINT_SESSION (phantoms STUDY_SITE_KINDPHA_NNNN)
//   - Interchange: sub-LABEL_ses-LABEL (phantoms sub-PHAKINDNN)
//
// Scan file names append _TAG[_DESCRIPTION][_SERIES].EXT to any label.
//
// Grammars live in a static table built once at package initialisation and
// never modified, so every exported function is safe for concurrent use.
// Identifier values are immutable; every transformation returns a new one.
//
// Unqualified parsing tries conventions in [Conventions] order (Internal,
// SiteIssued, Interchange) and, within a convention, the subject grammar
// before the phantom grammar. The first grammar that both matches and
// validates wins.
package scanid

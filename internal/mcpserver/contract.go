package mcpserver

// NamingContract describes the scan identifier conventions that LLM
// consumers should follow when naming or interpreting scans.
const NamingContract = `# mrtrack Naming Contract

Every scan identifier belongs to exactly one of three conventions. Parsing
without a convention tries them in this order: Internal, Site-Issued,
Interchange. The first grammar that matches wins.

## Internal

Subject: ` + "`" + `STUDY_SITE_SUBJECT[_TT[_SE##]]` + "`" + `

- STUDY is 2-8 letters or digits, SITE is 2-6.
- SUBJECT is up to 16 letters or digits.
- TT is a two-digit timepoint (01-99). SE## is a two-digit session (SE01-SE99).
- A timepoint without a session means session 1.

Phantom: ` + "`" + `STUDY_SITE_PHA_KIND[_NN]` + "`" + `

## Site-Issued

Subject: ` + "`" + `STUDY_SITE_SUBJECT[_TIMEPOINT[_NN]]` + "`" + `

- Codes are assigned by the collecting site and never derived from
  Internal codes. Translation needs the study's mapping table.
- SUBJECT may contain hyphens (` + "`" + `A-17` + "`" + `).

Phantom: ` + "`" + `STUDY_SITE_KINDPHA[_NNNN]` + "`" + `

## Interchange

Subject: ` + "`" + `sub-SUBJECT[_ses-TIMEPOINT]` + "`" + `

- No study or site segment. Labels use the Internal subject code.
- Converting to Internal needs a unique mapping table entry for the subject.

Phantom: ` + "`" + `sub-PHAKIND[NN]` + "`" + `

## Phantom kinds

FBIRN, ADNI, AGAR, QA, LEGO, NIST. A subject code that spells a phantom
kind is reserved in every convention.

## Scan files

` + "`" + `<label>_<TAG>[_<description>][_<series>].<ext>` + "`" + `

- TAG starts with a letter (T1, T2, DTI-60, RST).
- series is 1-3 digits. Compound extensions such as ` + "`" + `.nii.gz` + "`" + ` are kept whole.

## Archive keys

- Subject key: the label through the timepoint (` + "`" + `STU01_UTO_10001_01` + "`" + `). Repeat sessions share it.
- Experiment key: the label with its session plus ` + "`" + `_MR` + "`" + ` (` + "`" + `STU01_UTO_10001_01_SE01_MR` + "`" + `).
- Interchange identifiers have no archive keys.

## Failures

| kind | meaning |
|---|---|
| grammar_mismatch | no grammar matched the shape |
| field_validation | a grammar matched but a field value is out of range |
| unmapped_identifier | the mapping table has no entry for the subject |
| ambiguous_translation | more than one entry matches a reverse lookup |
| unrenderable_identifier | the target grammar lacks a required field |
`

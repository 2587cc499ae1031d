// Package dsl loads workflow definitions from YAML documents.
//
// The document mirrors the definition types: tasks, conditions, flows and
// cancellation regions under a single "workflow:" key.
//
//	workflow:
//	  name: expense-review
//	  version: "2"
//	  tasks:
//	    - name: triage
//	      split: xor
//	      auto_initialize: true
//	    - name: audit
//	      cardinality_func: approver-count
//	      completion:
//	        mode: quorum
//	        quorum: 2
//	    - name: archive
//	      join: xor
//	  conditions:
//	    - name: submitted
//	      initial: true
//	    - name: filed
//	      terminal: true
//	  flows:
//	    - {from: submitted, to: triage}
//	    - {from: triage, to: audit, when: high-value}
//	    - {from: triage, to: archive, default: true}
//	    - {from: audit, to: archive}
//	    - {from: archive, to: filed}
//
// # Named Functions
//
// Routing predicates and cardinality functions are Go code; documents
// reference them by name. Bind the names in a Registry before parsing:
//
//	reg := dsl.NewRegistry()
//	reg.RegisterPredicate("high-value", weft.FieldAtLeast("amount", 1000))
//	reg.RegisterCardinality("approver-count", weft.CardinalityFromField("approvers", 1))
//
//	def, err := dsl.NewParser(reg).ParseFile("expense-review.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.RegisterWorkflow(def); err != nil {
//	    log.Fatal(err)
//	}
//
// A document referencing an unregistered name fails to parse; there is no
// late binding.
//
// # Validation
//
// The parser rejects spellings it cannot map (unknown kinds, splits,
// completion modes) and unresolved function references. Everything
// structural, such as missing initial conditions or unreachable tasks, is
// left to the engine's RegisterWorkflow, which reports all violations of
// a definition at once.
package dsl

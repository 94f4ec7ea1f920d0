// Package capability defines the contract every model-callable capability
// satisfies and the per-tenant registry that exposes them.
//
// Invariants:
// - Registry.Invoke always returns a string; handler errors, schema
//   violations, panics and deadlines are converted to descriptive text.
// - A registry is immutable after NewRegistry and safe for concurrent use.
// - NewRegistry is the only place an unknown capability name is fatal.
//
// Usage:
//
//	reg, err := capability.NewRegistry([]string{"calculator"}, catalog)
//	if err != nil {
//		return err
//	}
//	out := reg.Invoke(ctx, "calculator", capability.Input{"expression": "2+2"})
package capability

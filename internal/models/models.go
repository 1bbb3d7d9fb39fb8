package models

// All lists every table the service migrates.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Predictor{},
		&Outcome{},
		&Interval{},
		&Session{},
		&Response{},
	}
}

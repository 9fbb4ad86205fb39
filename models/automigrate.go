package models

// AllTables returns a slice of all tables in the database.
func AllTables() []interface{} {
	return []interface{}{
		&Item{},
		&Annotation{},
		&Webmention{},
		&DeliveryRecord{},
		&Meta{},
		&Job{},
	}
}

package schema

// definitions describes every importable entity type. Field order matches
// the documented CSV template for each type; the Column header is what a
// well-formed export uses, and the mapping layer can override it per
// source system.
var definitions = []EntityDefinition{
	{
		Type:       EntityCases,
		Label:      "Cases",
		Table:      "cases",
		FileHints:  []string{"case"},
		NaturalKey: "external_id",
		Fields: []FieldSpec{
			{Name: "external_id", Column: "case_number", Type: FieldText, Required: true},
			{Name: "title", Column: "title", Type: FieldText, Required: true},
			{Name: "status", Column: "status", Type: FieldEnum, Required: true,
				EnumValues: []string{"open", "pending", "closed"}},
			{Name: "case_type", Column: "case_type", Type: FieldEnum,
				EnumValues: []string{"investigation", "surveillance", "background", "other"}},
			{Name: "opened_date", Column: "opened_date", Type: FieldDate},
			{Name: "closed_date", Column: "closed_date", Type: FieldDate},
			{Name: "assigned_to", Column: "assigned_to", Type: FieldText},
			{Name: "description", Column: "description", Type: FieldText},
		},
	},
	{
		Type:       EntityContacts,
		Label:      "Contacts",
		Table:      "contacts",
		FileHints:  []string{"contact"},
		NaturalKey: "external_id",
		Fields: []FieldSpec{
			{Name: "external_id", Column: "contact_id", Type: FieldText, Required: true},
			{Name: "name", Column: "name", Type: FieldText, Required: true},
			{Name: "contact_type", Column: "contact_type", Type: FieldEnum,
				EnumValues: []string{"client", "attorney", "vendor", "other"}},
			{Name: "email", Column: "email", Type: FieldText},
			{Name: "phone", Column: "phone", Type: FieldPhone},
			{Name: "company", Column: "company", Type: FieldText},
			{Name: "address", Column: "address", Type: FieldText},
			{Name: "city", Column: "city", Type: FieldText},
			{Name: "state", Column: "state", Type: FieldText},
			{Name: "postal_code", Column: "zip", Type: FieldText},
		},
	},
	{
		Type:           EntitySubjects,
		Label:          "Subjects",
		Table:          "subjects",
		FileHints:      []string{"subject"},
		NaturalKey:     "external_id",
		ParentType:     EntityCases,
		ParentKeyField: "case_external_id",
		Fields: []FieldSpec{
			{Name: "external_id", Column: "subject_id", Type: FieldText, Required: true},
			{Name: "case_external_id", Column: "case_number", Type: FieldText, Required: true},
			{Name: "first_name", Column: "first_name", Type: FieldText, Required: true},
			{Name: "last_name", Column: "last_name", Type: FieldText},
			{Name: "date_of_birth", Column: "date_of_birth", Type: FieldDate},
			{Name: "phone", Column: "phone", Type: FieldPhone},
			{Name: "address", Column: "address", Type: FieldText},
			{Name: "notes", Column: "notes", Type: FieldText},
		},
	},
	{
		Type:           EntityCaseUpdates,
		Label:          "Case Updates",
		Table:          "case_updates",
		FileHints:      []string{"update", "activity"},
		NaturalKey:     "external_id",
		ParentType:     EntityCases,
		ParentKeyField: "case_external_id",
		Fields: []FieldSpec{
			{Name: "external_id", Column: "update_id", Type: FieldText, Required: true},
			{Name: "case_external_id", Column: "case_number", Type: FieldText, Required: true},
			{Name: "update_date", Column: "update_date", Type: FieldDate, Required: true},
			{Name: "title", Column: "title", Type: FieldText},
			{Name: "body", Column: "body", Type: FieldText},
			{Name: "author", Column: "author", Type: FieldText},
			{Name: "billable", Column: "billable", Type: FieldBool},
		},
	},
	{
		Type:           EntityFinanceEntries,
		Label:          "Finance Entries",
		Table:          "finance_entries",
		FileHints:      []string{"finance", "billing", "invoice"},
		NaturalKey:     "external_id",
		ParentType:     EntityCases,
		ParentKeyField: "case_external_id",
		Fields: []FieldSpec{
			{Name: "external_id", Column: "entry_id", Type: FieldText, Required: true},
			{Name: "case_external_id", Column: "case_number", Type: FieldText, Required: true},
			{Name: "entry_type", Column: "entry_type", Type: FieldEnum, Required: true,
				EnumValues: []string{"time", "expense"}},
			{Name: "entry_date", Column: "entry_date", Type: FieldDate},
			{Name: "description", Column: "description", Type: FieldText},
			{Name: "quantity", Column: "quantity", Type: FieldNumeric},
			{Name: "rate", Column: "rate", Type: FieldNumeric},
			{Name: "amount", Column: "amount", Type: FieldNumeric},
			{Name: "invoiced", Column: "invoiced", Type: FieldBool},
		},
	},
}

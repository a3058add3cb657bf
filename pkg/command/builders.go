package command

// NewRead builds a signed-read of field in record guid. An empty field reads
// the whole record.
func NewRead(guid, field string, reader *Identity) *Command {
	c := New(TypeRead, FieldGUID, guid, FieldField, field)
	c.Identity = reader
	if reader != nil {
		c.Fields = append(c.Fields, Field{Key: FieldReader, Value: reader.GUID})
	}
	return c
}

// NewReadUnsigned builds an unauthenticated read.
func NewReadUnsigned(guid, field string) *Command {
	return New(TypeReadUnsigned, FieldGUID, guid, FieldField, field)
}

// NewReplace builds a write replacing field with value.
func NewReplace(guid, field string, value any, writer *Identity) *Command {
	c := New(TypeReplace, FieldGUID, guid, FieldField, field, FieldValue, value)
	c.Identity = writer
	if writer != nil {
		c.Fields = append(c.Fields, Field{Key: FieldWriter, Value: writer.GUID})
	}
	return c
}

// NewAppend builds a write appending value to the list in field.
func NewAppend(guid, field string, value any, writer *Identity) *Command {
	c := New(TypeAppend, FieldGUID, guid, FieldField, field, FieldValue, value)
	c.Identity = writer
	if writer != nil {
		c.Fields = append(c.Fields, Field{Key: FieldWriter, Value: writer.GUID})
	}
	return c
}

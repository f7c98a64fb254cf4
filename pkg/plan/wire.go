package plan

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// planFile mirrors plan.proto. Messages are built from this descriptor with
// dynamicpb, so the binary form is plain protobuf readable by any runtime
// that compiles plan.proto.
var planFile = mustPlanFile()

var (
	planDesc       = planFile.Messages().ByName("DistinctPlan")
	sortKeyDesc    = planFile.Messages().ByName("SortKey")
	projectionDesc = planFile.Messages().ByName("Projection")
)

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, repeated bool, typeName string) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  label.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func mustPlanFile() protoreflect.FileDescriptor {
	const (
		str   = descriptorpb.FieldDescriptorProto_TYPE_STRING
		u64   = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		i64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
		boolT = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		msg   = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("isotope/execcore/v1/plan.proto"),
		Package: proto.String("isotope.execcore.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("SortKey"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("column", 1, str, false, ""),
					field("descending", 2, boolT, false, ""),
					field("nulls_first", 3, boolT, false, ""),
				},
			},
			{
				Name: proto.String("Projection"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("expr", 1, str, false, ""),
					field("name", 2, str, false, ""),
				},
			},
			{
				Name: proto.String("DistinctPlan"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("name", 1, str, false, ""),
					field("sort_keys", 2, msg, true, ".isotope.execcore.v1.SortKey"),
					field("projections", 3, msg, true, ".isotope.execcore.v1.Projection"),
					field("columns", 4, str, true, ""),
					field("limit_hint", 5, u64, false, ""),
					field("max_rows", 6, u64, false, ""),
					field("max_bytes", 7, u64, false, ""),
					field("overflow", 8, str, false, ""),
					field("chunk_size", 9, i64, false, ""),
					field("where", 10, str, false, ""),
				},
			},
		},
	}
	file, err := protodesc.NewFile(fd, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("plan descriptor: %v", err))
	}
	return file
}

func setString(m *dynamicpb.Message, name, v string) {
	if v != "" {
		m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), protoreflect.ValueOfString(v))
	}
}

func setUint(m *dynamicpb.Message, name string, v uint64) {
	if v != 0 {
		m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), protoreflect.ValueOfUint64(v))
	}
}

func setBool(m *dynamicpb.Message, name string, v bool) {
	if v {
		m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), protoreflect.ValueOfBool(v))
	}
}

func get(m protoreflect.Message, name string) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name)))
}

// MarshalBinary encodes the plan as a protobuf DistinctPlan message.
func (p *DistinctPlan) MarshalBinary() ([]byte, error) {
	m := dynamicpb.NewMessage(planDesc)
	fields := planDesc.Fields()
	setString(m, "name", p.Name)

	keys := m.Mutable(fields.ByName("sort_keys")).List()
	for _, k := range p.SortKeys {
		km := dynamicpb.NewMessage(sortKeyDesc)
		setString(km, "column", k.Column)
		setBool(km, "descending", k.Descending)
		setBool(km, "nulls_first", k.NullsFirst)
		keys.Append(protoreflect.ValueOfMessage(km))
	}
	projections := m.Mutable(fields.ByName("projections")).List()
	for _, pr := range p.Projections {
		pm := dynamicpb.NewMessage(projectionDesc)
		setString(pm, "expr", pr.Expr)
		setString(pm, "name", pr.Name)
		projections.Append(protoreflect.ValueOfMessage(pm))
	}
	if len(p.Columns) > 0 {
		cols := m.Mutable(fields.ByName("columns")).List()
		for _, c := range p.Columns {
			cols.Append(protoreflect.ValueOfString(c))
		}
	}

	setUint(m, "limit_hint", p.LimitHint)
	setUint(m, "max_rows", p.MaxRows)
	setUint(m, "max_bytes", p.MaxBytes)
	setString(m, "overflow", p.Overflow)
	if p.ChunkSize != 0 {
		m.Set(fields.ByName("chunk_size"), protoreflect.ValueOfInt64(int64(p.ChunkSize)))
	}
	setString(m, "where", p.Where)

	b, err := proto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("plan: marshal: %w", err)
	}
	return b, nil
}

// UnmarshalBinary decodes a plan written by MarshalBinary. Unknown fields
// are ignored.
func (p *DistinctPlan) UnmarshalBinary(b []byte) error {
	m := dynamicpb.NewMessage(planDesc)
	if err := proto.Unmarshal(b, m); err != nil {
		return fmt.Errorf("plan: unmarshal: %w", err)
	}

	*p = DistinctPlan{
		Name:      get(m, "name").String(),
		LimitHint: get(m, "limit_hint").Uint(),
		MaxRows:   get(m, "max_rows").Uint(),
		MaxBytes:  get(m, "max_bytes").Uint(),
		Overflow:  get(m, "overflow").String(),
		ChunkSize: int(get(m, "chunk_size").Int()),
		Where:     get(m, "where").String(),
	}
	keys := get(m, "sort_keys").List()
	for i := 0; i < keys.Len(); i++ {
		km := keys.Get(i).Message()
		p.SortKeys = append(p.SortKeys, SortKey{
			Column:     get(km, "column").String(),
			Descending: get(km, "descending").Bool(),
			NullsFirst: get(km, "nulls_first").Bool(),
		})
	}
	projections := get(m, "projections").List()
	for i := 0; i < projections.Len(); i++ {
		pm := projections.Get(i).Message()
		p.Projections = append(p.Projections, Projection{
			Expr: get(pm, "expr").String(),
			Name: get(pm, "name").String(),
		})
	}
	cols := get(m, "columns").List()
	for i := 0; i < cols.Len(); i++ {
		p.Columns = append(p.Columns, cols.Get(i).String())
	}
	return nil
}

package traceio

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// RowSchema is the Arrow schema of an exported layout, one record row per
// waterfall row.
var RowSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "trace_id", Type: arrow.BinaryTypes.String},
		{Name: "row_type", Type: arrow.BinaryTypes.String},
		{Name: "span_id", Type: arrow.BinaryTypes.String},
		{Name: "parent_span_id", Type: arrow.BinaryTypes.String},
		{Name: "op", Type: arrow.BinaryTypes.String},
		{Name: "description", Type: arrow.BinaryTypes.String},
		{Name: "tree_depth", Type: arrow.PrimitiveTypes.Int32},
		{Name: "is_last_sibling", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "is_orphan", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "num_children", Type: arrow.PrimitiveTypes.Int32},
		{Name: "start_timestamp", Type: arrow.PrimitiveTypes.Float64},
		{Name: "end_timestamp", Type: arrow.PrimitiveTypes.Float64},
		{Name: "bounds_type", Type: arrow.BinaryTypes.String},
		{Name: "bounds_start", Type: arrow.PrimitiveTypes.Float64},
		{Name: "bounds_end", Type: arrow.PrimitiveTypes.Float64},
		{Name: "bounds_width", Type: arrow.PrimitiveTypes.Float64},
		{Name: "visible", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "hidden", Type: arrow.BinaryTypes.String},
	},
	nil,
)

// WriteArrowRows writes rows as an Arrow IPC file (Feather v2, LZ4).
func WriteArrowRows(w io.Writer, traceID string, rows []waterfall.Row) error {
	mem := memory.NewGoAllocator()

	builder := array.NewRecordBuilder(mem, RowSchema)
	defer builder.Release()

	traceIDs := builder.Field(0).(*array.StringBuilder)
	rowTypes := builder.Field(1).(*array.StringBuilder)
	spanIDs := builder.Field(2).(*array.StringBuilder)
	parentIDs := builder.Field(3).(*array.StringBuilder)
	ops := builder.Field(4).(*array.StringBuilder)
	descriptions := builder.Field(5).(*array.StringBuilder)
	depths := builder.Field(6).(*array.Int32Builder)
	lastSiblings := builder.Field(7).(*array.BooleanBuilder)
	orphans := builder.Field(8).(*array.BooleanBuilder)
	children := builder.Field(9).(*array.Int32Builder)
	starts := builder.Field(10).(*array.Float64Builder)
	ends := builder.Field(11).(*array.Float64Builder)
	boundsTypes := builder.Field(12).(*array.StringBuilder)
	boundsStarts := builder.Field(13).(*array.Float64Builder)
	boundsEnds := builder.Field(14).(*array.Float64Builder)
	boundsWidths := builder.Field(15).(*array.Float64Builder)
	visible := builder.Field(16).(*array.BooleanBuilder)
	hidden := builder.Field(17).(*array.StringBuilder)

	for _, row := range rows {
		traceIDs.Append(traceID)
		rowTypes.Append(string(row.Type))
		spanIDs.Append(row.Span.SpanID)
		parentIDs.Append(row.Span.ParentSpanID)
		ops.Append(row.Span.Op)
		descriptions.Append(row.Span.Description)
		depths.Append(int32(row.TreeDepth))
		lastSiblings.Append(row.IsLastSibling)
		orphans.Append(row.Span.IsOrphan)
		children.Append(int32(row.NumOfChildren))
		starts.Append(row.Span.StartTimestamp)
		ends.Append(row.Span.EndTimestamp)
		boundsTypes.Append(string(row.Bounds.Type))
		boundsStarts.Append(row.Bounds.Start)
		boundsEnds.Append(row.Bounds.End)
		boundsWidths.Append(row.Bounds.Width)
		visible.Append(row.IsVisible())
		hidden.Append(string(row.Hidden))
	}

	record := builder.NewRecord()
	defer record.Release()

	writer, err := ipc.NewFileWriter(
		w,
		ipc.WithSchema(RowSchema),
		ipc.WithAllocator(mem),
		ipc.WithLZ4(),
	)
	if err != nil {
		return fmt.Errorf("failed to create Arrow writer: %w", err)
	}

	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish Arrow file: %w", err)
	}
	return nil
}

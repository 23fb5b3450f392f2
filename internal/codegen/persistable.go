package codegen

import (
	"github.com/dave/jennifer/jen"

	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
	"github.com/conduit-lang/fabrique/pkg/synth"
)

// persistable declares Create and All on the record over database/sql.
// The connection type needs QueryContext and QueryRowContext.
func (g *Generator) persistable(f *jen.File, model *schema.AnalysisOutput, c *synth.Contract) {
	rec := c.Record
	columnsVar := schema.ToCamelCase(schema.ToSnakeCase(rec)) + "Columns"

	f.Var().Id("_").Qual(fabriquePkg, "Persistable").Types(jen.Id(rec), typeCode(g.conn)).Op("=").Id(rec).Values()

	f.Var().Id(columnsVar).Op("=").Index().String().ValuesFunc(func(grp *jen.Group) {
		for _, column := range model.Columns() {
			grp.Lit(column)
		}
	})

	scanInto := func(target string) []jen.Code {
		dest := make([]jen.Code, len(c.Setters))
		for i, s := range c.Setters {
			dest[i] = jen.Op("&").Id(target).Dot(s.GoField)
		}
		return dest
	}

	f.Commentf("Create inserts the record into %s. Zero primary keys are left to the database.", c.Table)
	f.Func().Params(jen.Id("r").Id(rec)).Id("Create").Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("conn").Add(typeCode(g.conn)),
	).Params(jen.Id(rec), jen.Error()).BlockFunc(func(grp *jen.Group) {
		grp.Id("columns").Op(":=").Make(jen.Index().String(), jen.Lit(0), jen.Lit(len(c.Setters)))
		grp.Id("args").Op(":=").Make(jen.Index().Interface(), jen.Lit(0), jen.Lit(len(c.Setters)))

		for _, s := range c.Setters {
			add := []jen.Code{
				jen.Id("columns").Op("=").Append(jen.Id("columns"), jen.Lit(s.Field)),
				jen.Id("args").Op("=").Append(jen.Id("args"), jen.Id("r").Dot(s.GoField)),
			}
			if s.Primary {
				grp.If(jen.Op("!").Qual(fabriquePkg, "IsZero").Call(jen.Id("r").Dot(s.GoField))).Block(add...)
				continue
			}
			for _, code := range add {
				grp.Add(code)
			}
		}

		grp.Id("query").Op(":=").Qual(sqlstorePkg, "InsertStatement").Call(
			jen.Lit(c.Table), jen.Id("columns"), jen.Id(columnsVar), jen.Qual(sqlstorePkg, placeholderName(g.opts.Placeholder)),
		)
		grp.Line()
		grp.Var().Id("out").Id(rec)
		grp.If(
			jen.Err().Op(":=").Id("conn").Dot("QueryRowContext").Call(jen.Id("ctx"), jen.Id("query"), jen.Id("args").Op("...")).
				Dot("Scan").Call(scanInto("out")...),
			jen.Err().Op("!=").Nil(),
		).Block(
			jen.Return(jen.Id(rec).Values(), jen.Qual("fmt", "Errorf").Call(
				jen.Lit("failed to insert "+rec+": %w"),
				jen.Qual(sqlstorePkg, "ConvertDBError").Call(jen.Err()),
			)),
		)
		grp.Return(jen.Id("out"), jen.Nil())
	})

	f.Commentf("All returns every record stored in %s", c.Table)
	f.Func().Params(jen.Id(rec)).Id("All").Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("conn").Add(typeCode(g.conn)),
	).Params(jen.Index().Id(rec), jen.Error()).Block(
		jen.List(jen.Id("rows"), jen.Err()).Op(":=").Id("conn").Dot("QueryContext").Call(
			jen.Id("ctx"), jen.Lit(sqlstore.SelectQuery(model)),
		),
		jen.If(jen.Err().Op("!=").Nil()).Block(
			jen.Return(jen.Nil(), jen.Qual("fmt", "Errorf").Call(
				jen.Lit("failed to query "+c.Table+": %w"),
				jen.Qual(sqlstorePkg, "ConvertDBError").Call(jen.Err()),
			)),
		),
		jen.Defer().Id("rows").Dot("Close").Call(),
		jen.Line(),
		jen.Var().Id("records").Index().Id(rec),
		jen.For(jen.Id("rows").Dot("Next").Call()).Block(
			jen.Var().Id("r").Id(rec),
			jen.If(
				jen.Err().Op(":=").Id("rows").Dot("Scan").Call(scanInto("r")...),
				jen.Err().Op("!=").Nil(),
			).Block(
				jen.Return(jen.Nil(), jen.Qual("fmt", "Errorf").Call(jen.Lit("failed to scan "+c.Table+": %w"), jen.Err())),
			),
			jen.Id("records").Op("=").Append(jen.Id("records"), jen.Id("r")),
		),
		jen.Return(jen.Id("records"), jen.Id("rows").Dot("Err").Call()),
	)
}

func placeholderName(ph sqlstore.Placeholder) string {
	if ph == sqlstore.Question {
		return "Question"
	}
	return "Dollar"
}

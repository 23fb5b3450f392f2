package codegen

import (
	"github.com/dave/jennifer/jen"

	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/synth"
)

// record declares the record struct with db tags
func (g *Generator) record(f *jen.File, c *synth.Contract) {
	f.Commentf("%s is stored in %s", c.Record, c.Table)
	f.Type().Id(c.Record).StructFunc(func(grp *jen.Group) {
		for _, s := range c.Setters {
			grp.Id(s.GoField).Add(typeCode(s.Type)).Tag(map[string]string{"db": s.Field})
		}
	})
}

// factory declares the builder type, its constructors, setters, hooks,
// Make and Create
func (g *Generator) factory(f *jen.File, c *synth.Contract) {
	builder := jen.Id(c.Builder)
	recv := func() *jen.Statement { return jen.Id("f").Id(c.Builder) }

	f.Commentf("%s builds %s records. Every method returns a modified copy.", c.Builder, c.Record)
	f.Type().Id(c.Builder).StructFunc(func(grp *jen.Group) {
		for _, s := range c.Setters {
			grp.Id(s.Slot).Op("*").Add(typeCode(s.Type))
		}
		for _, h := range c.Hooks {
			grp.Id(h.Slot).Func().Params(jen.Id(h.RelatedBuilder)).Id(h.RelatedBuilder)
		}
	})

	f.Commentf("New%s returns a factory with every slot empty", c.Builder)
	f.Func().Id("New" + c.Builder).Params().Add(builder).Block(
		jen.Return(jen.Id(c.Builder).Values()),
	)

	f.Commentf("Factory returns a new %s", c.Builder)
	f.Func().Params(jen.Id(c.Record)).Id("Factory").Params().Add(builder).Block(
		jen.Return(jen.Id("New" + c.Builder).Call()),
	)

	for _, s := range c.Setters {
		f.Commentf("%s sets %s", s.Method, s.Field)
		f.Func().Params(recv()).Id(s.Method).Params(jen.Id("v").Add(typeCode(s.Type))).Add(builder).Block(
			jen.Id("f").Dot(s.Slot).Op("=").Op("&").Id("v"),
			jen.Return(jen.Id("f")),
		)
	}

	for _, h := range c.Hooks {
		f.Commentf("%s creates the related %s first and copies its %s into %s.",
			h.Method, h.RelatedRecord, h.ReferencedKey, h.OwnerField)
		f.Comment("A later call replaces the callback.")
		f.Func().Params(recv()).Id(h.Method).Params(
			jen.Id("callback").Func().Params(jen.Id(h.RelatedBuilder)).Id(h.RelatedBuilder),
		).Add(builder).Block(
			jen.Id("f").Dot(h.Slot).Op("=").Id("callback"),
			jen.Return(jen.Id("f")),
		)
	}

	f.Comment("Make assembles the record from the set slots without creating relations")
	f.Func().Params(recv()).Id("Make").Params().Id(c.Record).BlockFunc(func(grp *jen.Group) {
		grp.Var().Id("r").Id(c.Record)
		for _, s := range c.Setters {
			grp.If(jen.Id("f").Dot(s.Slot).Op("!=").Nil()).Block(
				jen.Id("r").Dot(s.GoField).Op("=").Op("*").Id("f").Dot(s.Slot),
			)
		}
		grp.Return(jen.Id("r"))
	})

	f.Comment("Create creates pending relations in field order, then the record itself")
	f.Func().Params(recv()).Id("Create").Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("conn").Add(typeCode(g.conn)),
	).Params(jen.Id(c.Record), jen.Error()).BlockFunc(func(grp *jen.Group) {
		for _, step := range c.Steps {
			if step.Kind != synth.StepResolveRelation {
				continue
			}
			h := c.Hooks[step.Hook]
			related := schema.ToCamelCase(h.BaseName) + "Record"
			setter := c.Setters[h.OwnerSetter]

			grp.If(jen.Id("f").Dot(h.Slot).Op("!=").Nil()).Block(
				jen.List(jen.Id(related), jen.Err()).Op(":=").
					Id("f").Dot(h.Slot).Call(jen.Id("New"+h.RelatedBuilder).Call()).
					Dot("Create").Call(jen.Id("ctx"), jen.Id("conn")),
				jen.If(jen.Err().Op("!=").Nil()).Block(
					jen.Return(jen.Id(c.Record).Values(), jen.Err()),
				),
				jen.Id("f").Op("=").Id("f").Dot(setter.Method).Call(jen.Id(related).Dot(h.KeyGoField)),
			)
		}
		grp.Return(jen.Id("f").Dot("Make").Call().Dot("Create").Call(jen.Id("ctx"), jen.Id("conn")))
	})
}

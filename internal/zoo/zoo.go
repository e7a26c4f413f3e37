// Package zoo defines the pet and food types shared by tests.
package zoo

import (
	"fmt"

	"github.com/maruel/balloonist/balloon"
)

// Size of an animal.
type Size struct {
	Height int64
	Weight int64
}

// BalloonType implements balloon.Struct.
func (Size) BalloonType() string { return "Size" }

// Cat is an animal that may purr.
type Cat struct {
	Size     Size
	PurrType *string
}

// BalloonType implements balloon.Struct.
func (Cat) BalloonType() string { return "Cat" }

// Dog is an animal with an obedience score in [0, 1].
type Dog struct {
	Size      Size
	Obedience float64
}

// BalloonType implements balloon.Struct.
func (Dog) BalloonType() string { return "Dog" }

// Owner gives nicknames to animals.
type Owner struct {
	PetNicknames map[balloon.Struct]string
}

// BalloonType implements balloon.Struct.
func (Owner) BalloonType() string { return "Owner" }

// SimpleFood is a food with known calories.
type SimpleFood struct {
	Calories int64
}

// BalloonType implements balloon.Struct.
func (SimpleFood) BalloonType() string { return "SimpleFood" }

// CompositeFood is made of other foods.
type CompositeFood struct {
	Ingredients []balloon.Struct
}

// BalloonType implements balloon.Struct.
func (CompositeFood) BalloonType() string { return "CompositeFood" }

// Descriptors for the types above.
var (
	AnimalType = &balloon.TypeDescriptor{ID: "Animal", Abstract: true}
	SizeType   = &balloon.TypeDescriptor{
		ID: "Size",
		Fields: []balloon.Field{
			{Name: "height", Type: balloon.Int},
			{Name: "weight", Type: balloon.Int},
		},
		New: func(v balloon.Values) (balloon.Struct, error) {
			return Size{Height: v.Int("height"), Weight: v.Int("weight")}, nil
		},
		Unpack: func(s balloon.Struct) balloon.Values {
			sz := s.(Size)
			return balloon.Values{"height": sz.Height, "weight": sz.Weight}
		},
	}
	CatType = &balloon.TypeDescriptor{
		ID:         "Cat",
		Implements: []string{"Animal"},
		Fields: []balloon.Field{
			{Name: "size", Type: balloon.StructOf("Size")},
			{Name: "purr_type", Type: balloon.Optional(balloon.String)},
		},
		New: func(v balloon.Values) (balloon.Struct, error) {
			c := Cat{Size: v.Struct("size").(Size)}
			if v.Has("purr_type") {
				p := v.String("purr_type")
				c.PurrType = &p
			}
			return c, nil
		},
		Unpack: func(s balloon.Struct) balloon.Values {
			c := s.(Cat)
			v := balloon.Values{"size": c.Size, "purr_type": nil}
			if c.PurrType != nil {
				v["purr_type"] = *c.PurrType
			}
			return v
		},
	}
	DogType = &balloon.TypeDescriptor{
		ID:         "Dog",
		Implements: []string{"Animal"},
		Fields: []balloon.Field{
			{Name: "size", Type: balloon.StructOf("Size")},
			{Name: "obedience", Type: balloon.Float},
		},
		New: func(v balloon.Values) (balloon.Struct, error) {
			o := v.Float("obedience")
			if o < 0 || o > 1 {
				return nil, fmt.Errorf("obedience %g out of [0, 1]", o)
			}
			return Dog{Size: v.Struct("size").(Size), Obedience: o}, nil
		},
		Unpack: func(s balloon.Struct) balloon.Values {
			d := s.(Dog)
			return balloon.Values{"size": d.Size, "obedience": d.Obedience}
		},
	}
	OwnerType = &balloon.TypeDescriptor{
		ID: "Owner",
		Fields: []balloon.Field{
			{Name: "pet_nicknames", Type: balloon.MapOf(balloon.StructOf("Animal"), balloon.String)},
		},
		New: func(v balloon.Values) (balloon.Struct, error) {
			m := make(map[balloon.Struct]string, len(v.StructMap("pet_nicknames")))
			for k, nick := range v.StructMap("pet_nicknames") {
				m[k] = nick.(string)
			}
			return Owner{PetNicknames: m}, nil
		},
		Unpack: func(s balloon.Struct) balloon.Values {
			return balloon.Values{"pet_nicknames": s.(Owner).PetNicknames}
		},
	}
	FoodType       = &balloon.TypeDescriptor{ID: "Food", Abstract: true}
	SimpleFoodType = &balloon.TypeDescriptor{
		ID:         "SimpleFood",
		Implements: []string{"Food"},
		Fields:     []balloon.Field{{Name: "calories", Type: balloon.Int}},
		New: func(v balloon.Values) (balloon.Struct, error) {
			return SimpleFood{Calories: v.Int("calories")}, nil
		},
		Unpack: func(s balloon.Struct) balloon.Values {
			return balloon.Values{"calories": s.(SimpleFood).Calories}
		},
	}
	CompositeFoodType = &balloon.TypeDescriptor{
		ID:         "CompositeFood",
		Implements: []string{"Food"},
		Fields:     []balloon.Field{{Name: "ingredients", Type: balloon.ListOf(balloon.StructOf("Food"))}},
		New: func(v balloon.Values) (balloon.Struct, error) {
			var in []balloon.Struct
			for _, e := range v.List("ingredients") {
				in = append(in, e.(balloon.Struct))
			}
			return CompositeFood{Ingredients: in}, nil
		},
		Unpack: func(s balloon.Struct) balloon.Values {
			return balloon.Values{"ingredients": s.(CompositeFood).Ingredients}
		},
	}
)

// Registry returns a frozen registry of every type in this package.
func Registry() *balloon.Registry {
	r := balloon.NewRegistry().MustRegister(
		AnimalType, SizeType, CatType, DogType, OwnerType,
		FoodType, SimpleFoodType, CompositeFoodType,
		balloon.NamedVariant[Cat]("Named.Cat", "Cat"),
		balloon.NamedVariant[Dog]("Named.Dog", "Dog"),
		balloon.NamedVariant[Owner]("Named.Owner", "Owner"),
		balloon.NamedVariant[SimpleFood]("Named.SimpleFood", "SimpleFood"),
		balloon.NamedVariant[CompositeFood]("Named.CompositeFood", "CompositeFood"),
	)
	if err := r.Freeze(); err != nil {
		panic(err)
	}
	return r
}

func purr(s string) *string { return &s }

// Fixtures.
var (
	Abigail   = balloon.Promote(Cat{Size: Size{Height: 10, Weight: 5}, PurrType: purr("loud")}, "abigail")
	Benjamin  = balloon.Promote(Cat{Size: Size{Height: 15, Weight: 8}, PurrType: purr("soft")}, "benjamin")
	Charlotte = balloon.Promote(Cat{Size: Size{Height: 12, Weight: 7}}, "charlotte")

	Alex  = balloon.Promote(Dog{Size: Size{Height: 20, Weight: 10}, Obedience: 0.9}, "alex")
	Bella = balloon.Promote(Dog{Size: Size{Height: 25, Weight: 15}, Obedience: 0.7}, "bella")
	Cody  = balloon.Promote(Dog{Size: Size{Height: 22, Weight: 12}, Obedience: 0.8}, "cody")

	Alice = balloon.Promote(Owner{PetNicknames: map[balloon.Struct]string{Abigail: "abby", Alex: "ale"}}, "alice")
	Bob   = balloon.Promote(Owner{PetNicknames: map[balloon.Struct]string{Benjamin: "ben", Bella: "bel"}}, "bob")
	Carol = balloon.Promote(Owner{PetNicknames: map[balloon.Struct]string{Charlotte: "charlie", Cody: "cod"}}, "carol")

	Apple  = balloon.Promote(SimpleFood{Calories: 10}, "apple")
	Banana = balloon.Promote(SimpleFood{Calories: 20}, "banana")
	Carrot = balloon.Promote(SimpleFood{Calories: 5}, "carrot")
	Date   = balloon.Promote(SimpleFood{Calories: 30}, "date")

	FruitSalad             = balloon.Promote(CompositeFood{Ingredients: []balloon.Struct{Apple, Banana}}, "fruit-salad")
	VegetableSalad         = balloon.Promote(CompositeFood{Ingredients: []balloon.Struct{Carrot, Date}}, "vegetable-salad")
	FruitAndVegetableSalad = balloon.Promote(CompositeFood{Ingredients: []balloon.Struct{FruitSalad, VegetableSalad}}, "fruit-and-vegetable-salad")
)

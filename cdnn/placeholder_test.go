package cdnn

import "reflect"

// placeholder erzeugt eine Funktion vom Typ des Slots, die StatusSuccess
// bzw. den Nullwert liefert
func placeholder(slot any) any {
	typ := reflect.TypeOf(slot).Elem()
	return reflect.MakeFunc(typ, func([]reflect.Value) []reflect.Value {
		out := make([]reflect.Value, typ.NumOut())
		for i := range out {
			out[i] = reflect.Zero(typ.Out(i))
		}
		return out
	}).Interface()
}

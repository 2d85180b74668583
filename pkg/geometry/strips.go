package geometry

// StripsToTriangles expands triangle strips into triangles.
// Odd positions swap the last two indices to keep a consistent winding.
// Strips shorter than three indices produce nothing.
func StripsToTriangles(groups ...[][]uint32) []Triangle {
	var tris []Triangle
	for _, strips := range groups {
		for _, s := range strips {
			tris = appendStrip(tris, s)
		}
	}
	return tris
}

func appendStrip(tris []Triangle, s []uint32) []Triangle {
	for i := 0; i+2 < len(s); i++ {
		if i%2 == 0 {
			tris = append(tris, Triangle{s[i], s[i+1], s[i+2]})
		} else {
			tris = append(tris, Triangle{s[i], s[i+2], s[i+1]})
		}
	}
	return tris
}

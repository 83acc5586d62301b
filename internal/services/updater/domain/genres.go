package domain

import (
	"shinga/internal/core/normalize"
)

// genre names in english with the russian spelling catalogues use
var genreTable = [][2]string{
	{"Action", "Экшен"},
	{"Adventure", "Приключения"},
	{"Avant Garde", "Авангард"},
	{"Award Winning", "Лауреат наград"},
	{"Gender Intrigue", "Гендерная интрига"},
	{"Heroic Fantasy", "Героическое фэнтези"},
	{"Boys Love", "Мужская любовь"},
	{"Comedy", "Комедия"},
	{"Drama", "Драма"},
	{"Combat", "Боевик"},
	{"Humor", "Юмор"},
	{"Murim", "Мурим"},
	{"School Life", "Школьная жизнь"},
	{"Fantastic", "Фантастика"},
	{"Thriller", "Триллер"},
	{"Tragedy", "Трагедия"},
	{"Psychology", "Психология"},
	{"Post-Apocalyptic", "Постапокалиптика"},
	{"Elements of Humor", "Элементы юмора"},
	{"Kodomo", "Кодомо"},
	{"Kids", "Детский"},
	{"Cyberpunk", "Киберпанк"},
	{"History", "История"},
	{"Fantasy", "Фэнтези"},
	{"Girls Love", "Тянки-лав"},
	{"Gourmet", "Гурман"},
	{"Horror", "Ужасы"},
	{"Mystery", "Мистика"},
	{"Romance", "Романтика"},
	{"Sci-Fi", "Научная фантастика"},
	{"Slice of Life", "Повседневность"},
	{"Sports", "Спорт"},
	{"Supernatural", "Сверхъестественное"},
	{"Suspense", "Саспенс"},
	{"Seinen", "Сэйнэн"},
	{"Shounen", "Сёнэн"},
	{"Doujinshi", "Додзинси"},
	{"Shoujo", "Сёдзё"},
	{"Josei", "Дзёсэй"},
	{"Yaoi", "Яой"},
	{"Ecchi", "Этти"},
	{"Erotica", "Эротика"},
	{"Hentai", "Хентай"},
	{"Adult Cast", "Взрослый состав"},
	{"Anthropomorphic", "Антропоморфизм"},
	{"CGDCT", "Милые девушки делают милые вещи"},
	{"Childcare", "Уход за детьми"},
	{"Combat Sports", "Боевые виды спорта"},
	{"Crossdressing", "Кроссдрессинг"},
	{"Delinquents", "Делинквенты"},
	{"Detective", "Детектив"},
	{"Educational", "Образовательный"},
	{"Gag Humor", "Гэг-юмор"},
	{"Gore", "Жестокость"},
	{"Harem", "Гарем"},
	{"High Stakes Game", "Игры с высокими ставками"},
	{"Historical", "Исторический"},
	{"Idols (Female)", "Айдолы (женщины)"},
	{"Idols (Male)", "Айдолы (мужчины)"},
	{"Isekai", "Исэкай"},
	{"Iyashikei", "Иясикэй"},
	{"Love Polygon", "Любовный многоугольник"},
	{"Love Status Quo", "Статус-кво в любви"},
	{"Magical Sex Shift", "Магическая смена пола"},
	{"Mahou Shoujo", "Махо-сёдзё"},
	{"Martial Arts", "Боевые искусства"},
	{"Mecha", "Меха"},
	{"Medical", "Медицинский"},
	{"Memoir", "Мемуары"},
	{"Military", "Военный"},
	{"Music", "Музыка"},
	{"Mythology", "Мифология"},
	{"Organized Crime", "Организованная преступность"},
	{"Otaku Culture", "Отаку-культура"},
	{"Parody", "Пародия"},
	{"Performing Arts", "Исполнительские искусства"},
	{"Pets", "Питомцы"},
	{"Psychological", "Психологическое"},
	{"Racing", "Гонки"},
	{"Reincarnation", "Реинкарнация"},
	{"Reverse Harem", "Обратный гарем"},
	{"Samurai", "Самураи"},
	{"School", "Школа"},
	{"Showbiz", "Шоу-бизнес"},
	{"Space", "Космос"},
	{"Strategy Game", "Стратегические игры"},
	{"Super Power", "Суперсила"},
	{"Survival", "Выживание"},
	{"Team Sports", "Командный спорт"},
	{"Time Travel", "Путешествия во времени"},
	{"Urban Fantasy", "Городское фэнтези"},
	{"Vampire", "Вампиры"},
	{"Video Game", "Видеоигры"},
	{"Villainess", "Злодейка"},
	{"Visual Arts", "Визуальные искусства"},
	{"Workplace", "Рабочее место"},
}

var genreIndex = func() map[string]string {
	m := make(map[string]string, len(genreTable)*2)
	for _, g := range genreTable {
		m[normalize.Fold(g[0])] = g[0]
		m[normalize.Fold(g[1])] = g[0]
	}
	return m
}()

// Genre maps an english or russian genre name to its canonical english name
func Genre(name string) (string, bool) {
	g, ok := genreIndex[normalize.Fold(name)]
	return g, ok
}

// Genres maps names through Genre, dropping unknown ones and repeats
func Genres(names ...string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		g, ok := Genre(n)
		if !ok {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
